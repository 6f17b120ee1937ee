// Package clickhouse reads and writes OHLCV bars in a ClickHouse klines table.
package clickhouse

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	chproto "github.com/ClickHouse/clickhouse-go/v2/lib/proto"
)

type Config struct {
	Addr     []string
	Database string
	Username string
	Password string
	Table    string
}

// Rows is the subset of driver.Rows the source needs
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

// Batch is the subset of driver.Batch the writer needs
type Batch interface {
	Append(v ...any) error
	Send() error
	Abort() error
}

// Conn is the connection surface used by Source and Writer. Client implements it over
// the native driver.
type Conn interface {
	Query(ctx context.Context, query string, args ...any) (Rows, error)
	Exec(ctx context.Context, query string, args ...any) error
	PrepareBatch(ctx context.Context, query string) (Batch, error)
	Close() error
}

type Client struct {
	conn driver.Conn
}

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func (c Config) validate() error {
	if len(c.Addr) == 0 {
		return errors.New("clickhouse: no address")
	}
	if !identRe.MatchString(c.Database) || !identRe.MatchString(c.Table) {
		return fmt.Errorf("clickhouse: invalid database/table name %q.%q", c.Database, c.Table)
	}
	return nil
}

// Open connects and pings the server.
func Open(ctx context.Context, cfg Config) (*Client, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: cfg.Addr,
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": uint64(0),
		},
		DialTimeout: 10 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("clickhouse open: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("clickhouse ping: %s", ExplainError(err))
	}
	return &Client{conn: conn}, nil
}

func (c *Client) Query(ctx context.Context, query string, args ...any) (Rows, error) {
	return c.conn.Query(ctx, query, args...)
}

func (c *Client) Exec(ctx context.Context, query string, args ...any) error {
	return c.conn.Exec(ctx, query, args...)
}

func (c *Client) PrepareBatch(ctx context.Context, query string) (Batch, error) {
	return c.conn.PrepareBatch(ctx, query)
}

func (c *Client) Close() error { return c.conn.Close() }

// ExplainError formats server exceptions with their code and name.
func ExplainError(err error) string {
	var ex *chproto.Exception
	if errors.As(err, &ex) {
		return fmt.Sprintf("ClickHouse [%d] %s (%s)", ex.Code, ex.Message, ex.Name)
	}
	return err.Error()
}
