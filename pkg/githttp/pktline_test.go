package githttp

import (
	"testing"
)

func TestPktLine(t *testing.T) {
	tests := []struct {
		payload string
		want    string
	}{
		{payload: "", want: "0004"},
		{payload: "# service=git-upload-pack\n", want: "001e# service=git-upload-pack\n"},
	}
	for _, tt := range tests {
		if got := pktLine(tt.payload); got != tt.want {
			t.Errorf("pktLine(%q) = %q, want %q", tt.payload, got, tt.want)
		}
	}
}

func feed(t *testing.T, p *reportParser, chunks ...string) {
	t.Helper()
	for _, c := range chunks {
		if _, err := p.Write([]byte(c)); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
	}
}

func TestReportParserExtractsChanges(t *testing.T) {
	p := &reportParser{}
	feed(t, p,
		pktLine("unpack ok\n"),
		pktLine("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb refs/heads/env/dev\n"),
		pktLine("cccccccccccccccccccccccccccccccccccccccc dddddddddddddddddddddddddddddddddddddddd refs/tags/v1\n"),
		flushPkt,
	)

	changes := p.Changes()
	if len(changes) != 2 {
		t.Fatalf("Changes() = %d entries, want 2", len(changes))
	}
	if changes[0].Type != "head" || changes[0].Ref != "env/dev" ||
		changes[0].Before != "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa" ||
		changes[0].After != "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb" {
		t.Errorf("changes[0] = %+v", changes[0])
	}
	if changes[1].Type != "tag" || changes[1].Ref != "v1" {
		t.Errorf("changes[1] = %+v", changes[1])
	}
}

func TestReportParserDiscardsStatusHeader(t *testing.T) {
	p := &reportParser{}
	// Only the status header arrives: nothing to report.
	feed(t, p, pktLine("unpack ok\n"), flushPkt)
	if changes := p.Changes(); changes != nil {
		t.Errorf("Changes() = %v, want nil", changes)
	}
}

func TestReportParserSplitWrites(t *testing.T) {
	p := &reportParser{}
	full := pktLine("unpack ok\n") +
		pktLine("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb refs/heads/env/dev\n") +
		flushPkt

	// Byte-at-a-time delivery must parse identically.
	for i := 0; i < len(full); i++ {
		feed(t, p, full[i:i+1])
	}
	if changes := p.Changes(); len(changes) != 1 || changes[0].Ref != "env/dev" {
		t.Errorf("Changes() = %v", changes)
	}
}

func TestReportParserMalformedFraming(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "non-hex length", input: "zzzz"},
		{name: "undersized length", input: "0003"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &reportParser{}
			feed(t, p, pktLine("unpack ok\n"), tt.input, pktLine("ignored after failure\n"))
			if !p.failed {
				t.Error("parser did not mark the stream as failed")
			}
			if changes := p.Changes(); changes != nil {
				t.Errorf("Changes() = %v after protocol error", changes)
			}
		})
	}
}

func TestReportParserSidebandPayload(t *testing.T) {
	p := &reportParser{}
	feed(t, p,
		pktLine("\x01000eunpack ok\n0000"),
		pktLine("\x02aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb refs/heads/env/dev\n"),
		flushPkt,
	)
	changes := p.Changes()
	if len(changes) != 1 || changes[0].Ref != "env/dev" || changes[0].Type != "head" {
		t.Errorf("Changes() = %v", changes)
	}
}

func TestReportParserIgnoresUnrelatedLines(t *testing.T) {
	p := &reportParser{}
	feed(t, p,
		pktLine("unpack ok\n"),
		pktLine("some hook chatter\n"),
		pktLine("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb refs/heads/main\n"),
		flushPkt,
	)
	changes := p.Changes()
	if len(changes) != 1 || changes[0].Ref != "main" {
		t.Errorf("Changes() = %v", changes)
	}
}
