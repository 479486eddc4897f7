package sshserver

import (
	"bytes"
	"strings"
	"unicode"
)

// readBufferSize is the most a session reads from the peer at once.
const readBufferSize = 1024

// maxClientVersionLen caps the recorded client banner. RFC 4253 limits the
// identification string to 255 characters including the CRLF.
const maxClientVersionLen = 253

var (
	// kexInitPayload is a synthetic key exchange init message. It looks
	// like an SSH packet to a scanner but negotiates nothing.
	kexInitPayload = buildKexInit()

	// authFailurePayload is sent after every credential attempt.
	authFailurePayload = []byte("\x00\x00\x00\x0c\x0a\x33Authentication failed\r\n")
)

func buildKexInit() []byte {
	var b bytes.Buffer
	b.Write([]byte{0x00, 0x00, 0x01, 0x2c, 0x0a, 0x14}) // length, padding, SSH_MSG_KEXINIT
	b.Write(bytes.Repeat([]byte{'A'}, 16))              // cookie
	b.WriteString("diffie-hellman-group14-sha1")
	b.Write(make([]byte, 50))
	return b.Bytes()
}

// parseClientVersion returns the peer's identification string from the first
// line of data, or "" if data does not start with one.
func parseClientVersion(data []byte) string {
	line, _, _ := bytes.Cut(data, []byte("\n"))
	line = bytes.TrimSuffix(line, []byte("\r"))
	if !bytes.HasPrefix(line, []byte("SSH-")) {
		return ""
	}

	v := strings.Map(func(r rune) rune {
		if r > unicode.MaxASCII || !unicode.IsPrint(r) {
			return -1
		}
		return r
	}, string(line))
	if len(v) > maxClientVersionLen {
		v = v[:maxClientVersionLen]
	}
	return v
}
