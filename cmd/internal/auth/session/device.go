package session

import (
	"net/netip"
	"strings"
	"unicode/utf8"
)

const (
	maxIPLen         = 45
	maxUserAgentLen  = 512
	maxDeviceNameLen = 100
)

// Device is the client context recorded on a session.
type Device struct {
	IP        string
	UserAgent string
	Name      string
}

// normalized trims fields and bounds them to their column sizes.
// An unparsable IP is dropped rather than stored.
func (d Device) normalized() Device {
	out := Device{
		UserAgent: truncate(strings.TrimSpace(d.UserAgent), maxUserAgentLen),
		Name:      truncate(strings.TrimSpace(d.Name), maxDeviceNameLen),
	}
	if addr, err := netip.ParseAddr(strings.TrimSpace(d.IP)); err == nil {
		if s := addr.Unmap().String(); len(s) <= maxIPLen {
			out.IP = s
		}
	}
	return out
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
