package qemu

// qmp.go implements the subset of the QEMU Machine Protocol used to observe
// and stop a guest: a JSON object stream over a unix socket where each
// command gets exactly one return or error reply and asynchronous events may
// arrive at any time.

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var ErrQMPClosed = errors.New("qmp: connection closed")

// QMPError is an error reply from QEMU.
type QMPError struct {
	Class string `json:"class"`
	Desc  string `json:"desc"`
}

func (e *QMPError) Error() string {
	return fmt.Sprintf("qmp: %s: %s", e.Class, e.Desc)
}

// QMPVersion is the version announced in the greeting.
type QMPVersion struct {
	QEMU struct {
		Major int `json:"major"`
		Minor int `json:"minor"`
		Micro int `json:"micro"`
	} `json:"qemu"`
	Package string `json:"package"`
}

func (v QMPVersion) String() string {
	return fmt.Sprintf("%d.%d.%d", v.QEMU.Major, v.QEMU.Minor, v.QEMU.Micro)
}

type qmpGreeting struct {
	QMP struct {
		Version      QMPVersion `json:"version"`
		Capabilities []string   `json:"capabilities"`
	} `json:"QMP"`
}

type qmpCommand struct {
	Execute   string `json:"execute"`
	Arguments any    `json:"arguments,omitempty"`
}

type qmpResponse struct {
	Return json.RawMessage `json:"return"`
	Error  *QMPError       `json:"error"`
	Event  string          `json:"event"`
}

// BlockStats is one entry of query-blockstats.
type BlockStats struct {
	Device string `json:"device"`
	Stats  struct {
		WrOperations uint64 `json:"wr_operations"`
		WrBytes      uint64 `json:"wr_bytes"`
		RdOperations uint64 `json:"rd_operations"`
	} `json:"stats"`
}

// QMPClient is a connected, capability-negotiated monitor.
type QMPClient struct {
	conn    net.Conn
	dec     *json.Decoder
	enc     *json.Encoder
	logger  zerolog.Logger
	version QMPVersion

	mu sync.Mutex
}

// DialQMP connects to the monitor socket at path, reads the greeting and
// leaves negotiation mode.
func DialQMP(ctx context.Context, logger zerolog.Logger, path string) (*QMPClient, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return nil, err
	}

	c := &QMPClient{
		conn:   conn,
		dec:    json.NewDecoder(conn),
		enc:    json.NewEncoder(conn),
		logger: logger,
	}

	if err := c.handshake(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}

func (c *QMPClient) handshake(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.watch(ctx)()

	var greeting qmpGreeting
	if err := c.dec.Decode(&greeting); err != nil {
		return fmt.Errorf("failed to read qmp greeting: %w", err)
	}
	c.version = greeting.QMP.Version
	return c.executeLocked("qmp_capabilities", nil, nil)
}

// Version returns the QEMU version from the greeting.
func (c *QMPClient) Version() QMPVersion {
	return c.version
}

// Execute runs one command and decodes its return value into out, which may
// be nil. Events received while waiting are logged and skipped.
func (c *QMPClient) Execute(ctx context.Context, command string, args any, out any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.watch(ctx)()
	return c.executeLocked(command, args, out)
}

func (c *QMPClient) executeLocked(command string, args any, out any) error {
	if err := c.enc.Encode(qmpCommand{Execute: command, Arguments: args}); err != nil {
		return fmt.Errorf("failed to send %s: %w", command, err)
	}

	for {
		var resp qmpResponse
		if err := c.dec.Decode(&resp); err != nil {
			return fmt.Errorf("failed to read %s reply: %w", command, err)
		}
		if resp.Event != "" {
			c.logger.Debug().Str("event", resp.Event).Msg("QMP event")
			continue
		}
		if resp.Error != nil {
			return fmt.Errorf("%s: %w", command, resp.Error)
		}
		if out != nil && len(resp.Return) > 0 {
			if err := json.Unmarshal(resp.Return, out); err != nil {
				return fmt.Errorf("failed to decode %s reply: %w", command, err)
			}
		}
		return nil
	}
}

// watch applies the context deadline to the connection and interrupts
// blocked reads on cancellation. The returned func must be called when the
// exchange is over.
func (c *QMPClient) watch(ctx context.Context) func() {
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetDeadline(time.Now())
	})
	return func() {
		stop()
		_ = c.conn.SetDeadline(time.Time{})
	}
}

// BlockStats returns the statistics of every block device.
func (c *QMPClient) BlockStats(ctx context.Context) ([]BlockStats, error) {
	var stats []BlockStats
	if err := c.Execute(ctx, "query-blockstats", nil, &stats); err != nil {
		return nil, err
	}
	return stats, nil
}

// Screendump writes the primary display to path as PNG.
func (c *QMPClient) Screendump(ctx context.Context, path string) error {
	return c.Execute(ctx, "screendump", map[string]string{"filename": path, "format": "png"}, nil)
}

// Close closes the connection.
func (c *QMPClient) Close() error {
	return c.conn.Close()
}
