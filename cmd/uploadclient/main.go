// Command uploadclient uploads a call recording and follows its
// processing progress over the websocket channel until a terminal event
// arrives. Useful for smoke-testing a running service.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

type progressEvent struct {
	EventType string          `json:"eventType"`
	SessionID string          `json:"sessionId"`
	Stage     string          `json:"stage"`
	Progress  int             `json:"progress"`
	Message   string          `json:"message"`
	Terminal  bool            `json:"terminal"`
	Error     string          `json:"error,omitempty"`
	Record    json.RawMessage `json:"record,omitempty"`
}

func main() {
	audioFile := flag.String("audio", "testdata/sample.wav", "Path to audio file")
	serverAddr := flag.String("server", "localhost:8080", "Service host:port")
	sessionID := flag.String("session", uuid.New().String(), "Session ID")
	timeout := flag.Duration("timeout", 2*time.Minute, "How long to wait for the terminal event")
	flag.Parse()

	// Open the progress channel first so no event is missed; joining an
	// unknown session is fine, events start once the upload is accepted.
	wsURL := url.URL{Scheme: "ws", Host: *serverAddr, Path: "/v1/progress"}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL.String(), nil)
	if err != nil {
		log.Fatalf("Failed to connect to %s: %v", wsURL.String(), err)
	}
	defer conn.Close()

	join := map[string]string{"action": "join", "session_id": *sessionID}
	if err := conn.WriteJSON(join); err != nil {
		log.Fatalf("Failed to join session: %v", err)
	}

	if err := upload(*serverAddr, *sessionID, *audioFile); err != nil {
		log.Fatalf("Upload failed: %v", err)
	}
	log.Printf("Upload accepted: sessionId=%s file=%s", *sessionID, *audioFile)

	deadline := time.Now().Add(*timeout)
	for {
		_ = conn.SetReadDeadline(deadline)
		var ev progressEvent
		if err := conn.ReadJSON(&ev); err != nil {
			log.Fatalf("Progress channel closed: %v", err)
		}
		log.Printf("[%3d%%] %-13s %s", ev.Progress, ev.Stage, ev.Message)
		if !ev.Terminal {
			continue
		}
		if ev.Error != "" {
			log.Fatalf("Processing failed: %s", ev.Error)
		}
		pretty, _ := json.MarshalIndent(ev.Record, "", "  ")
		fmt.Println(string(pretty))
		return
	}
}

func upload(serverAddr, sessionID, audioFile string) error {
	f, err := os.Open(audioFile)
	if err != nil {
		return err
	}
	defer f.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filepath.Base(audioFile))
	if err != nil {
		return err
	}
	if _, err := io.Copy(fw, f); err != nil {
		return err
	}
	if err := mw.Close(); err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, "http://"+serverAddr+"/v1/calls", &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("X-Session-ID", sessionID)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, body)
	}
	return nil
}
