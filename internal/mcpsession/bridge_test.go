package mcpsession

import (
	"context"
	"testing"

	"github.com/iMAGRAY/shelldone/internal/ack"
	"github.com/iMAGRAY/shelldone/internal/approval"
	"github.com/iMAGRAY/shelldone/internal/continuum"
	"github.com/iMAGRAY/shelldone/internal/policy"
)

func newTestBridge(t *testing.T) *Bridge {
	t.Helper()
	dir := t.TempDir()
	eng, err := policy.NewEngine("", nil)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	registry, err := approval.NewRegistry(dir)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	journal := continuum.NewStore(dir, 0, nil)
	ackSvc := ack.New(eng, journal, registry, nil, nil)
	return NewBridge(NewMemoryRepository(), ackSvc)
}

func TestBridgeCallToolUnsupported(t *testing.T) {
	b := newTestBridge(t)
	s, err := b.InitializeSession("nova", "1.0", nil)
	if err != nil {
		t.Fatalf("InitializeSession: %v", err)
	}
	if _, err := b.CallTool(context.Background(), s.ID, "agent.undo", ToolArgs{}); err == nil {
		t.Fatal("expected Unsupported")
	} else if _, ok := err.(*Unsupported); !ok {
		t.Errorf("expected *Unsupported, got %T: %v", err, err)
	}
}

func TestBridgeCallToolAgentExec(t *testing.T) {
	b := newTestBridge(t)
	s, err := b.InitializeSession("nova", "1.0", []string{"tools"})
	if err != nil {
		t.Fatalf("InitializeSession: %v", err)
	}
	resp, err := b.CallTool(context.Background(), s.ID, "agent.exec", ToolArgs{Cmd: "echo hi"})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if resp.ExitCode != 0 {
		t.Errorf("exit_code = %d, want 0", resp.ExitCode)
	}
}

func TestBridgeCallToolRequiresActiveSession(t *testing.T) {
	b := newTestBridge(t)
	s, err := New("nova")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := b.repo.Save(s); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := b.CallTool(context.Background(), s.ID, "agent.exec", ToolArgs{Cmd: "echo hi"}); err == nil {
		t.Fatal("expected ProtocolError for non-active session")
	}
}

func TestBridgeCloseSession(t *testing.T) {
	b := newTestBridge(t)
	s, err := b.InitializeSession("nova", "1.0", nil)
	if err != nil {
		t.Fatalf("InitializeSession: %v", err)
	}
	if err := b.CloseSession(s.ID, "done"); err != nil {
		t.Fatalf("CloseSession: %v", err)
	}
	if err := b.RecordHeartbeat(s.ID); err == nil {
		t.Fatal("expected ProtocolError heartbeat on closed session")
	}
}
