// Package history persists raised alerts into ClickHouse for later
// querying, in the same connect/PrepareBatch/Send shape the teacher uses
// for its own flow and heavy-hitter writers.
package history

import (
	"context"
	"fmt"
	"log"
	"net"
	"strconv"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"ddosguard/internal/config"
	"ddosguard/internal/model"
)

const createAlertsTableStatement = `
CREATE TABLE IF NOT EXISTS alerts (
    ID                     String,
    DetectedAt             DateTime,
    DstIP                  UInt32,
    CusumID                UInt32,
    ThresholdBytes         Float64,
    ThresholdPackets       Float64,
    ThresholdEntropy       Float64,
    ThresholdRecvSentBytes Float64,
    ThresholdRecvSentFlows Float64,
    MeasuredBytes          Float64,
    MeasuredPackets        Float64,
    MeasuredEntropy        Float64,
    MeasuredRecvSentBytes  Float64,
    MeasuredRecvSentFlows  Float64,
    SrcIPs                 Array(UInt32)
) ENGINE = MergeTree()
PARTITION BY toYYYYMM(DetectedAt)
ORDER BY (DstIP, DetectedAt);
`

// ClickHouseWriter is an engine.AlertSink that inserts every alert it
// receives into ClickHouse, one row per alert.
type ClickHouseWriter struct {
	conn driver.Conn
}

// NewClickHouseWriter connects to ClickHouse and ensures the alerts table
// exists.
func NewClickHouseWriter(cfg config.ClickHouseConfig) (*ClickHouseWriter, error) {
	conn, err := connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to clickhouse: %w", err)
	}
	if err := conn.Exec(context.Background(), createAlertsTableStatement); err != nil {
		return nil, fmt.Errorf("failed to create alerts table: %w", err)
	}
	log.Println("connected to ClickHouse, alerts table ready")
	return &ClickHouseWriter{conn: conn}, nil
}

func connect(cfg config.ClickHouseConfig) (driver.Conn, error) {
	addr := cfg.Addr
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, strconv.Itoa(9000))
	}

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, err
	}
	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}
	return conn, nil
}

// Emit inserts a into the alerts table, satisfying engine.AlertSink.
func (w *ClickHouseWriter) Emit(a model.Alert) error {
	batch, err := w.conn.PrepareBatch(context.Background(), "INSERT INTO alerts")
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}

	err = batch.Append(
		a.ID.String(),
		a.DetectedAt,
		a.DstIP,
		a.CusumID,
		a.ThresholdBytes,
		a.ThresholdPackets,
		a.ThresholdEntropy,
		a.ThresholdRecvSentBytes,
		a.ThresholdRecvSentFlows,
		a.MeasuredBytes,
		a.MeasuredPackets,
		a.MeasuredEntropy,
		a.MeasuredRecvSentBytes,
		a.MeasuredRecvSentFlows,
		a.SrcIPs,
	)
	if err != nil {
		return fmt.Errorf("failed to append alert to batch: %w", err)
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}
	return nil
}

// Query returns the alerts raised for dstIP at or after since, most
// recent first, used by the status API.
func (w *ClickHouseWriter) Query(ctx context.Context, dstIP uint32, since time.Time, limit int) ([]model.Alert, error) {
	rows, err := w.conn.Query(ctx, `
		SELECT ID, DetectedAt, DstIP, CusumID,
		       ThresholdBytes, ThresholdPackets, ThresholdEntropy, ThresholdRecvSentBytes, ThresholdRecvSentFlows,
		       MeasuredBytes, MeasuredPackets, MeasuredEntropy, MeasuredRecvSentBytes, MeasuredRecvSentFlows,
		       SrcIPs
		FROM alerts
		WHERE DstIP = ? AND DetectedAt >= ?
		ORDER BY DetectedAt DESC
		LIMIT ?`, dstIP, since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	var out []model.Alert
	for rows.Next() {
		var a model.Alert
		var id string
		if err := rows.Scan(
			&id, &a.DetectedAt, &a.DstIP, &a.CusumID,
			&a.ThresholdBytes, &a.ThresholdPackets, &a.ThresholdEntropy, &a.ThresholdRecvSentBytes, &a.ThresholdRecvSentFlows,
			&a.MeasuredBytes, &a.MeasuredPackets, &a.MeasuredEntropy, &a.MeasuredRecvSentBytes, &a.MeasuredRecvSentFlows,
			&a.SrcIPs,
		); err != nil {
			return nil, fmt.Errorf("failed to scan alert row: %w", err)
		}
		if parsed, err := model.ParseID(id); err == nil {
			a.ID = parsed
		}
		out = append(out, a)
	}
	return out, nil
}
