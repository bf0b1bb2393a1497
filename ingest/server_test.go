package ingest

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"go.evewatch.dev/evewatch/internal/types"
)

func TestDecodeFrame(t *testing.T) {
	tests := []struct {
		name    string
		msg     string
		wantOK  bool
		wantPID int
		wantErr bool
	}{
		{
			name:    "typed frame",
			msg:     `{"type":"eve_ui_status","payload":{"process_id":12,"status":"Running","general_window":{"overview_windows":[]}}}`,
			wantOK:  true,
			wantPID: 12,
		},
		{
			name:    "bare status",
			msg:     `{"process_id":5,"status":"Stopped"}`,
			wantOK:  true,
			wantPID: 5,
		},
		{
			name:   "unrelated frame type",
			msg:    `{"type":"processes","payload":[1,2,3]}`,
			wantOK: false,
		},
		{
			name:    "typed frame without payload",
			msg:     `{"type":"eve_ui_status"}`,
			wantErr: true,
		},
		{
			name:    "invalid json",
			msg:     `not json`,
			wantErr: true,
		},
		{
			name:    "bad process id",
			msg:     `{"process_id":0}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, ok, err := decodeFrame([]byte(tt.msg))
			if (err != nil) != tt.wantErr {
				t.Fatalf("decodeFrame() error = %v, wantErr %v", err, tt.wantErr)
			}
			if ok != tt.wantOK {
				t.Errorf("decodeFrame() ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && status.ProcessID != tt.wantPID {
				t.Errorf("ProcessID = %d, want %d", status.ProcessID, tt.wantPID)
			}
		})
	}
}

func TestServer_RoundTrip(t *testing.T) {
	received := make(chan types.UiStatus, 4)
	s := NewServer(Config{Handler: func(st types.UiStatus) { received <- st }})
	ts := httptest.NewServer(s)
	defer ts.Close()
	defer s.Close()

	if err := s.Send(Command{Type: CommandStartTracker, PID: 1}); !errors.Is(err, ErrNoHost) {
		t.Fatalf("Send() without hosts error = %v, want ErrNoHost", err)
	}

	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	frames := []string{
		`garbage`,
		`{"type":"eve_ui_status","payload":{"process_id":77,"status":"Running","general_window":"{\"overview_windows\":[{\"entries\":[{\"object_name\":\"Bob\",\"is_player\":true}]}]}"}}`,
	}
	for _, f := range frames {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	select {
	case st := <-received:
		if st.ProcessID != 77 || st.GeneralWindow == nil {
			t.Fatalf("received %+v", st)
		}
		if got := st.GeneralWindow.OverviewWindows[0].Entries[0].ObjectName; got != "Bob" {
			t.Errorf("entry name = %q, want Bob", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("status frame not delivered")
	}

	deadline := time.Now().Add(2 * time.Second)
	for s.Hosts() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if err := s.Send(Command{Type: CommandStopTracker, PID: 77}); err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read command: %v", err)
	}
	if want := `{"type":"stop_tracker","pid":77}`; string(msg) != want {
		t.Errorf("command = %s, want %s", msg, want)
	}
}
