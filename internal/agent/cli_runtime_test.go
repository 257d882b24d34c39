package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"testing"
	"time"
)

// TestHelperProcess impersonates the agent CLI when run as a child process.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	args := os.Args
	for i, a := range args {
		if a == "--" {
			args = args[i+1:]
			break
		}
	}
	prompt, _ := io.ReadAll(os.Stdin)
	out := json.NewEncoder(os.Stdout)

	switch os.Getenv("HELPER_MODE") {
	case "ok":
		_ = out.Encode(map[string]any{"type": "system", "subtype": "init", "session_id": "cli-1", "tools": []string{"Read"}, "model": "m"})
		fmt.Println("not json, ignored")
		_ = out.Encode(map[string]any{"type": "assistant", "uuid": "u", "message": map[string]any{
			"content": []map[string]any{{"type": "text", "text": string(prompt)}},
		}})
		_ = out.Encode(map[string]any{"type": "result", "subtype": "success", "result": strings.Join(args, " "), "num_turns": 1})
		os.Exit(0)
	case "fail":
		fmt.Fprintln(os.Stderr, "authentication failed")
		os.Exit(2)
	case "silent":
		os.Exit(0)
	case "hang":
		time.Sleep(time.Minute)
		os.Exit(0)
	}
	os.Exit(3)
}

func helperRuntime(mode string) *CLIRuntime {
	r := NewCLIRuntime(os.Args[0], "sk-test", nil)
	r.ExtraArgs = []string{"-test.run=TestHelperProcess", "--"}
	r.Env = append(os.Environ(), "GO_WANT_HELPER_PROCESS=1", "HELPER_MODE="+mode)
	return r
}

func TestCLIRuntime_Args(t *testing.T) {
	r := NewCLIRuntime("claude", "", nil)
	args := r.Args(Query{Resume: "abc", Options: Options{
		Model: "m", MaxTurns: 50, PermissionMode: "acceptEdits", AllowedTools: []string{"Read", "Edit"},
	}})
	got := strings.Join(args, " ")
	for _, want := range []string{
		"-p --output-format stream-json --verbose",
		"--model m",
		"--max-turns 50",
		"--permission-mode acceptEdits",
		"--allowedTools Read,Edit",
		"--resume abc",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("args %q missing %q", got, want)
		}
	}
	if strings.Contains(strings.Join(r.Args(Query{}), " "), "--resume") {
		t.Error("empty token must not pass --resume")
	}
}

func TestCLIRuntime_StreamsMessages(t *testing.T) {
	r := helperRuntime("ok")
	var msgs []*StreamMessage
	for msg, err := range r.Run(context.Background(), Query{Prompt: "draw a star", Resume: "prev"}) {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		msgs = append(msgs, msg)
	}
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3", len(msgs))
	}
	if msgs[0].SessionID != "cli-1" {
		t.Errorf("init = %+v", msgs[0])
	}
	if msgs[1].Message.Text() != "draw a star" {
		t.Errorf("prompt not delivered on stdin: %q", msgs[1].Message.Text())
	}
	if !strings.Contains(msgs[2].Result, "--resume prev") {
		t.Errorf("args = %q", msgs[2].Result)
	}
}

func TestCLIRuntime_FailureCarriesStderr(t *testing.T) {
	var last error
	for _, err := range helperRuntime("fail").Run(context.Background(), Query{}) {
		last = err
	}
	if last == nil || !strings.Contains(last.Error(), "authentication failed") {
		t.Fatalf("err = %v, want stderr tail", last)
	}
}

func TestCLIRuntime_CleanExitWithoutResult(t *testing.T) {
	var last error
	for _, err := range helperRuntime("silent").Run(context.Background(), Query{}) {
		last = err
	}
	if !errors.Is(last, ErrNoResult) {
		t.Fatalf("err = %v, want ErrNoResult", last)
	}
}

func TestCLIRuntime_CancelKillsProcess(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	start := time.Now()
	var last error
	for _, err := range helperRuntime("hang").Run(ctx, Query{}) {
		last = err
	}
	if !errors.Is(last, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", last)
	}
	if time.Since(start) > 10*time.Second {
		t.Fatal("process was not killed on cancel")
	}
}

func TestTailBuffer_KeepsNewestBytes(t *testing.T) {
	b := newTailBuffer(8)
	_, _ = b.Write([]byte("abc"))
	if b.String() != "abc" {
		t.Fatalf("got %q", b.String())
	}
	_, _ = b.Write([]byte("defghij"))
	if b.String() != "cdefghij" {
		t.Fatalf("got %q, want cdefghij", b.String())
	}
	_, _ = b.Write([]byte("0123456789"))
	if b.String() != "23456789" {
		t.Fatalf("got %q, want 23456789", b.String())
	}
}
