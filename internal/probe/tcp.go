package probe

import (
	"context"
	"net"
	"time"
)

// TCP succeeds once a connection to Addr can be opened.
type TCP struct{ Addr string }

func (p TCP) Ready(ctx context.Context) error {
	d := net.Dialer{Timeout: 2 * time.Second}
	conn, err := d.DialContext(ctx, "tcp", p.Addr)
	if err != nil {
		return err
	}
	return conn.Close()
}

func (p TCP) Describe() string { return "tcp:" + p.Addr }
