package relay

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

// maxRemotePathLen bounds the reply of a NapCat file server.
const maxRemotePathLen = 4096

// NapCat sends files to a NapCat file receiver over TCP.
//
// Wire format, all integers big-endian:
//
//	request:  uint32 name length | name | uint64 file size | file bytes
//	response: uint32 path length | remote path (UTF-8)
type NapCat struct {
	addr    string
	timeout time.Duration
}

var _ Relay = (*NapCat)(nil)

// NewNapCat creates a relay for host:port. timeout bounds the whole transfer
// when ctx has no earlier deadline.
func NewNapCat(host string, port int, timeout time.Duration) *NapCat {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &NapCat{addr: net.JoinHostPort(host, strconv.Itoa(port)), timeout: timeout}
}

func (n *NapCat) Name() string { return "napcat" }

func (n *NapCat) Transfer(ctx context.Context, localPath string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", localPath, err)
	}

	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", n.addr)
	if err != nil {
		return "", fmt.Errorf("connect to NapCat file server %s: %w", n.addr, err)
	}
	defer conn.Close()

	// Unblock reads and writes when ctx ends.
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	start := time.Now()
	name := filepath.Base(localPath)
	w := bufio.NewWriter(conn)
	if err := writeHeader(w, name, fi.Size()); err != nil {
		return "", fmt.Errorf("send header: %w", err)
	}
	if _, err := io.Copy(w, f); err != nil {
		return "", fmt.Errorf("send file body: %w", err)
	}
	if err := w.Flush(); err != nil {
		return "", fmt.Errorf("send file body: %w", err)
	}

	remote, err := readRemotePath(conn)
	if err != nil {
		return "", fmt.Errorf("read NapCat reply: %w", err)
	}
	if remote == "" {
		return "", fmt.Errorf("NapCat file server returned an empty path")
	}

	log.Debug().
		Str("file", name).
		Int64("bytes", fi.Size()).
		Str("remote_path", remote).
		Dur("duration", time.Since(start)).
		Msg("File relayed to NapCat")
	return remote, nil
}

func writeHeader(w io.Writer, name string, size int64) error {
	if err := binary.Write(w, binary.BigEndian, uint32(len(name))); err != nil {
		return err
	}
	if _, err := io.WriteString(w, name); err != nil {
		return err
	}
	return binary.Write(w, binary.BigEndian, uint64(size))
}

func readRemotePath(r io.Reader) (string, error) {
	var n uint32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return "", err
	}
	if n > maxRemotePathLen {
		return "", fmt.Errorf("remote path length %d exceeds %d", n, maxRemotePathLen)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}
