package lldb

import (
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// vFile reads a file on the remote side through vFile packets.
type vFile struct {
	c  *conn
	fd int
}

func openFile(c *conn, filename string) (*vFile, error) {
	encFilename := hex.EncodeToString([]byte(filename))
	resp, err := c.exec(fmt.Sprintf("vFile:open:%s,0,0", encFilename))
	if err != nil {
		return nil, err
	}
	fd, _, err := parseFileResp(resp)
	if err != nil {
		return nil, err
	}
	return &vFile{c: c, fd: fd}, nil
}

func (f *vFile) Close() error {
	_, err := f.c.exec(fmt.Sprintf("vFile:close:%x", f.fd))
	return err
}

func (f *vFile) ReadAt(p []byte, off int64) (int, error) {
	read := 0
	for read < len(p) {
		size := len(p) - read
		if size > maxPacketData {
			size = maxPacketData
		}
		resp, err := f.c.exec(fmt.Sprintf("vFile:pread:%x,%x,%x", f.fd, size, off+int64(read)))
		if err != nil {
			return read, err
		}
		n, data, err := parseFileResp(resp)
		if err != nil {
			return read, err
		}
		if n == 0 {
			return read, io.EOF
		}
		read += copy(p[read:], data)
	}
	return read, nil
}

// parseFileResp parses "Fresult[,errno][;data]".
func parseFileResp(resp string) (int, string, error) {
	if len(resp) < 2 || resp[0] != 'F' {
		return 0, "", fmt.Errorf("unexpected file response: %s", resp)
	}
	if strings.HasPrefix(resp, "F-1") {
		return 0, "", fmt.Errorf("file operation failed: %s", resp)
	}
	res, data, hasData := strings.Cut(resp[1:], ";")
	n, err := strconv.ParseInt(res, 16, 64)
	if err != nil {
		return 0, "", fmt.Errorf("unexpected file response: %s", resp)
	}
	if hasData && len(data) != int(n) {
		return 0, "", fmt.Errorf("unexpected file len: %s", resp)
	}
	return int(n), data, nil
}
