package audit

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/sirupsen/logrus"
)

type Options struct {
	Addr     string
	Database string
	Username string
	Password string
	Logger   *logrus.Logger
}

// ClickHouseStore writes relay attempts to the relays table
type ClickHouseStore struct {
	conn   driver.Conn
	logger *logrus.Logger
}

const createRelaysTable = `
	CREATE TABLE IF NOT EXISTS relays (
		timestamp     DateTime64(3),
		quote_id      String,
		user          String,
		fee_payer     String,
		message_hash  String,
		replay_key    String,
		signature     String,
		version       LowCardinality(String),
		fee_lamports  UInt64,
		fee_mint      String,
		fee_amount    UInt64,
		outcome       LowCardinality(String),
		error         String
	) ENGINE = MergeTree()
	ORDER BY (timestamp, fee_payer)
`

func NewClickHouseStore(opts Options) (*ClickHouseStore, error) {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	if opts.Database == "" {
		opts.Database = "paymaster"
	}
	if opts.Username == "" {
		opts.Username = "default"
	}

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{opts.Addr},
		Auth: clickhouse.Auth{
			Database: opts.Database,
			Username: opts.Username,
			Password: opts.Password,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	opts.Logger.WithField("addr", opts.Addr).Info("connected to ClickHouse")
	return &ClickHouseStore{conn: conn, logger: opts.Logger}, nil
}

// EnsureSchema creates the relays table when missing
func (c *ClickHouseStore) EnsureSchema(ctx context.Context) error {
	if err := c.conn.Exec(ctx, createRelaysTable); err != nil {
		return fmt.Errorf("failed to create relays table: %w", err)
	}
	return nil
}

func (c *ClickHouseStore) InsertRelay(ctx context.Context, rec *Record) error {
	query := `
		INSERT INTO relays (
			timestamp, quote_id, user, fee_payer, message_hash, replay_key,
			signature, version, fee_lamports, fee_mint, fee_amount, outcome, error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	err := c.conn.Exec(ctx, query,
		rec.Timestamp,
		rec.QuoteID,
		rec.User,
		rec.FeePayer,
		rec.MessageHash,
		rec.ReplayKey,
		rec.Signature,
		rec.Version,
		rec.FeeLamports,
		rec.FeeMint,
		rec.FeeAmount,
		string(rec.Outcome),
		rec.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to insert relay: %w", err)
	}
	return nil
}

func (c *ClickHouseStore) Ping(ctx context.Context) error {
	return c.conn.Ping(ctx)
}

func (c *ClickHouseStore) Close() error {
	return c.conn.Close()
}
