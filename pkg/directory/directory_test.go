package directory

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mahaj/chatcore/pkg/model"
)

func testUsers() []model.User {
	return []model.User{
		{ID: "u1", Username: "alice", FirstName: "Alice", LastName: "Smith", Role: model.RoleUser},
		{ID: "u2", Username: "bob", FirstName: "Bob", LastName: "Jones", Role: model.RoleAdmin},
		{ID: "u3", Username: "carol", Role: model.RoleUser},
	}
}

func TestStatic(t *testing.T) {
	ctx := context.Background()
	d := NewStatic(testUsers()...)

	if _, err := d.Get(ctx, "nope"); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("Get(nope) error = %v, want ErrUserNotFound", err)
	}
	u, err := d.Get(ctx, "u2")
	if err != nil || u.Username != "bob" {
		t.Fatalf("Get(u2) = %+v, %v", u, err)
	}

	many, _ := d.GetMany(ctx, []string{"u1", "u3", "missing"})
	if len(many) != 2 {
		t.Errorf("GetMany resolved %d users, want 2", len(many))
	}

	list, _ := d.ListExcept(ctx, "u2")
	if len(list) != 2 || list[0].Username != "alice" || list[1].Username != "carol" {
		t.Errorf("ListExcept(u2) = %+v", list)
	}
}

func TestParseSeed(t *testing.T) {
	tests := []struct {
		name    string
		seed    string
		want    int
		wantErr bool
	}{
		{"empty", "", 0, false},
		{"full entries", "u1:alice:Alice:Smith:admin;u2:bob:Bob:Jones:user", 2, false},
		{"short entry", "u3:carol", 1, false},
		{"comma separated", "u1:a, u2:b", 2, false},
		{"missing id", ":alice", 0, true},
		{"too many fields", "u1:a:b:c:d:e", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			users, err := ParseSeed(tt.seed)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseSeed() error = %v, wantErr %v", err, tt.wantErr)
			}
			if len(users) != tt.want {
				t.Errorf("ParseSeed() = %d users, want %d", len(users), tt.want)
			}
		})
	}

	users, _ := ParseSeed("u3:carol")
	if users[0].Role != model.RoleUser {
		t.Errorf("default role = %q, want user", users[0].Role)
	}
}

func TestCached_Redis(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	defer rdb.Close()
	ctx := context.Background()
	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Skipf("skip: redis not available: %v", err)
	}

	backing := NewStatic(testUsers()...)
	c := NewCached(backing, rdb, time.Minute)
	rdb.Del(ctx, cachePrefix+"u1", cachePrefix+"u2")

	if _, err := c.Get(ctx, "u1"); err != nil {
		t.Fatalf("Get(u1) error = %v", err)
	}
	// served from cache once the backing record changes
	backing.Put(model.User{ID: "u1", Username: "renamed"})
	u, _ := c.Get(ctx, "u1")
	if u.Username != "alice" {
		t.Errorf("cached Username = %q, want alice", u.Username)
	}

	many, err := c.GetMany(ctx, []string{"u1", "u2", "ghost"})
	if err != nil {
		t.Fatalf("GetMany error = %v", err)
	}
	if len(many) != 2 {
		t.Errorf("GetMany resolved %d, want 2", len(many))
	}
	if _, err := c.Get(ctx, "ghost"); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("Get(ghost) error = %v, want ErrUserNotFound", err)
	}
}
