package db

import (
	"fmt"
	"strings"
	"time"

	"github.com/gocql/gocql"

	clog "github.com/mahaj/chatcore/pkg/log"
)

type Session struct {
	*gocql.Session
}

type Options struct {
	Hosts          []string
	Keyspace       string
	Consistency    string
	Timeout        time.Duration
	ConnectTimeout time.Duration
}

func NewSession(opts Options) (*Session, error) {
	cluster := gocql.NewCluster(opts.Hosts...)
	cluster.Keyspace = opts.Keyspace
	cluster.Consistency = parseConsistency(opts.Consistency)
	cluster.Timeout = orDefault(opts.Timeout, 5*time.Second)
	cluster.ConnectTimeout = orDefault(opts.ConnectTimeout, 5*time.Second)
	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		NumRetries: 3,
		Min:        100 * time.Millisecond,
		Max:        1 * time.Second,
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("connect scylla %v: %w", opts.Hosts, err)
	}

	clog.L().Info().Strs("hosts", opts.Hosts).Str("keyspace", opts.Keyspace).Msg("connected to ScyllaDB cluster")
	return &Session{Session: session}, nil
}

// Tables lists the schema in creation order.
var Tables = []struct {
	Name string
	CQL  string
}{
	{"conversations", `CREATE TABLE IF NOT EXISTS conversations (
		id text PRIMARY KEY,
		participants list<text>,
		title text,
		last_message_at timestamp,
		created_at timestamp
	)`},
	{"conversations_by_participants", `CREATE TABLE IF NOT EXISTS conversations_by_participants (
		participant_key text PRIMARY KEY,
		conversation_id text
	)`},
	{"user_conversations", `CREATE TABLE IF NOT EXISTS user_conversations (
		user_id text,
		conversation_id text,
		PRIMARY KEY (user_id, conversation_id)
	)`},
	{"messages", `CREATE TABLE IF NOT EXISTS messages (
		conversation_id text,
		id bigint,
		sender_id text,
		content text,
		timestamp timestamp,
		read boolean,
		PRIMARY KEY (conversation_id, id)
	) WITH CLUSTERING ORDER BY (id ASC)`},
	{"conversation_counters", `CREATE TABLE IF NOT EXISTS conversation_counters (
		user_id text,
		conversation_id text,
		unread_count counter,
		PRIMARY KEY (user_id, conversation_id)
	)`},
}

// CreateKeyspace connects to the system keyspace and creates keyspace with
// SimpleStrategy replication.
func CreateKeyspace(opts Options, replication int) error {
	sys := opts
	sys.Keyspace = "system"
	s, err := NewSession(sys)
	if err != nil {
		return err
	}
	defer s.Close()
	cql := fmt.Sprintf(`CREATE KEYSPACE IF NOT EXISTS %s WITH REPLICATION = { 'class' : 'SimpleStrategy', 'replication_factor' : %d }`,
		opts.Keyspace, replication)
	return s.Query(cql).Exec()
}

// Migrate creates every table that does not exist yet.
func (s *Session) Migrate() error {
	for _, t := range Tables {
		if err := s.Query(t.CQL).Exec(); err != nil {
			return fmt.Errorf("create table %s: %w", t.Name, err)
		}
	}
	return nil
}

func parseConsistency(s string) gocql.Consistency {
	switch strings.ToLower(s) {
	case "one":
		return gocql.One
	case "local_quorum":
		return gocql.LocalQuorum
	case "all":
		return gocql.All
	default:
		return gocql.Quorum
	}
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
