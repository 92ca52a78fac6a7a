package control

import (
	"encoding/json"
	"fmt"
	"net"
	"time"
)

const callTimeout = 30 * time.Second

// Call sends one request to the daemon socket and decodes its reply into
// resp.
func Call(socketPath string, req Request, resp any) error {
	conn, err := net.DialTimeout("unix", socketPath, 2*time.Second)
	if err != nil {
		return fmt.Errorf("cannot connect to daemon: %w", err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(callTimeout))
	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return err
	}
	if err := json.NewDecoder(conn).Decode(resp); err != nil {
		return fmt.Errorf("read %s reply: %w", req.Op, err)
	}
	return nil
}
