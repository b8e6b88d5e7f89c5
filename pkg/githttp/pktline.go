package githttp

import (
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"lunchbadger/configstore/pkg/events"
)

// refUpdateLine matches one line of a receive-pack report:
// "<before-sha> <after-sha> refs/heads/<name>" (or refs/tags/). The
// match is deliberately unanchored at the front: when the client
// negotiates side-band-64k the hook echo arrives with a band byte
// prefixed to each payload.
var refUpdateLine = regexp.MustCompile(`([0-9a-f]{40}) ([0-9a-f]{40}) refs/(heads|tags)/(\S+)`)

// pktLine frames a payload in Git's pkt-line format: a 4-hex length
// prefix covering itself plus the payload.
func pktLine(payload string) string {
	return fmt.Sprintf("%04x%s", len(payload)+4, payload)
}

// flushPkt is the pkt-line flush packet.
const flushPkt = "0000"

// reportParser is a tee target that incrementally decodes the pkt-line
// stream receive-pack sends back to the client. Malformed framing
// disables further parsing but never errors: the parser sits beside the
// transport, not in it.
type reportParser struct {
	buf     []byte
	packets [][]byte
	failed  bool
	skipLF  bool
}

func (p *reportParser) Write(b []byte) (int, error) {
	if !p.failed {
		p.buf = append(p.buf, b...)
		p.parse()
	}
	return len(b), nil
}

func (p *reportParser) parse() {
	for {
		if p.skipLF {
			if len(p.buf) == 0 {
				return
			}
			if p.buf[0] == '\n' {
				p.buf = p.buf[1:]
			}
			p.skipLF = false
		}
		if len(p.buf) < 4 {
			return
		}

		var raw [2]byte
		if _, err := hex.Decode(raw[:], p.buf[:4]); err != nil {
			p.failed = true
			return
		}
		length := int(raw[0])<<8 | int(raw[1])

		if length == 0 {
			// Flush packet; an optional trailing newline follows.
			p.buf = p.buf[4:]
			p.skipLF = true
			continue
		}
		if length <= 4 {
			p.failed = true
			return
		}
		if len(p.buf) < length {
			return
		}

		payload := make([]byte, length-4)
		copy(payload, p.buf[4:length])
		p.packets = append(p.packets, payload)
		p.buf = p.buf[length:]
	}
}

// Changes extracts the ref updates reported by receive-pack. The first
// packet is the per-push status header and is discarded; the remaining
// payloads are concatenated and scanned line by line.
func (p *reportParser) Changes() []events.Change {
	if p.failed || len(p.packets) < 2 {
		return nil
	}

	var sb strings.Builder
	for _, pkt := range p.packets[1:] {
		sb.Write(pkt)
	}

	var changes []events.Change
	for _, line := range strings.Split(sb.String(), "\n") {
		m := refUpdateLine.FindStringSubmatch(strings.TrimRight(line, "\r"))
		if m == nil {
			continue
		}
		refType := "head"
		if m[3] == "tags" {
			refType = "tag"
		}
		changes = append(changes, events.Change{
			Type:   refType,
			Ref:    m[4],
			Before: m[1],
			After:  m[2],
		})
	}
	return changes
}
