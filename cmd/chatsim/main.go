package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/fatih/color"
)

// Manual end-to-end drive of the chat API: opens a conversation by
// streaming a first exchange, follows up on the same conversation, then
// polls the listing until the title worker has replaced the placeholder.

var (
	baseURL = flag.String("url", "http://localhost:3000/api", "API base URL")
	token   = flag.String("token", os.Getenv("CHAT_TOKEN"), "JWT bearer token")
	message = flag.String("message", "Quelle heure est-il ?", "first message to send")
)

func prettyPrint(v interface{}) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Printf("%v\n", v)
		return
	}
	fmt.Println(string(b))
}

func sendRequest(method, url string, body interface{}) (*http.Response, []byte, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, _ := json.Marshal(body)
		bodyReader = bytes.NewBuffer(jsonBody)
	}

	req, err := http.NewRequest(method, *baseURL+url, bodyReader)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+*token)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	return resp, respBody, err
}

// streamChat posts to the streaming endpoint and echoes fragments as
// they arrive. Returns the conversation id from the response header and
// the accumulated reply.
func streamChat(conversationID, text string) (string, string, error) {
	payload := map[string]interface{}{"message": text}
	if conversationID != "" {
		payload["conversation_id"] = conversationID
	}
	jsonBody, _ := json.Marshal(payload)

	req, err := http.NewRequest("POST", *baseURL+"/chat/v1/stream", bytes.NewBuffer(jsonBody))
	if err != nil {
		return "", "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+*token)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", "", fmt.Errorf("status %s: %s", resp.Status, body)
	}

	convID := resp.Header.Get("X-Conversation-Id")
	var full bytes.Buffer
	buf := make([]byte, 512)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			fragment := buf[:n]
			full.Write(fragment)
			color.White("%s", fragment)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return convID, full.String(), err
		}
	}
	return convID, full.String(), nil
}

func main() {
	flag.Parse()
	if *token == "" {
		color.Red("Missing token: pass -token or set CHAT_TOKEN")
		os.Exit(1)
	}

	color.Cyan("🚀 Chat streaming walkthrough\n")

	// 1. First exchange, conversation created lazily
	color.Yellow("\n[1] Stream first exchange: %q", *message)
	convID, reply, err := streamChat("", *message)
	if err != nil {
		color.Red("Failed: %v", err)
		os.Exit(1)
	}
	color.Green("\nConversation: %s (%d bytes streamed)", convID, len(reply))

	// 2. Follow-up on the same conversation, history carried server-side
	color.Yellow("\n[2] Stream follow-up on %s", convID)
	if _, _, err := streamChat(convID, "Merci, et demain ?"); err != nil {
		color.Red("Failed: %v", err)
		os.Exit(1)
	}

	// 3. Transcript as persisted
	color.Yellow("\n[3] Fetch history")
	resp, body, err := sendRequest("GET", "/chat/v1/conversation/"+convID+"/messages", nil)
	if err != nil {
		color.Red("Failed: %v", err)
		os.Exit(1)
	}
	color.Green("Status: %s", resp.Status)
	var history map[string]interface{}
	json.Unmarshal(body, &history)
	prettyPrint(history)

	// 4. Title generation is asynchronous, poll for the rewrite
	color.Yellow("\n[4] Wait for summarized title")
	for i := 0; i < 10; i++ {
		time.Sleep(2 * time.Second)
		_, body, err := sendRequest("GET", "/chat/v1/conversations", nil)
		if err != nil {
			color.Red("Failed: %v", err)
			os.Exit(1)
		}
		var listing struct {
			Data []struct {
				Id    string `json:"id"`
				Title string `json:"title"`
			} `json:"data"`
		}
		json.Unmarshal(body, &listing)
		for _, conv := range listing.Data {
			if conv.Id == convID && conv.Title != "Nouvelle conversation" {
				color.Green("Title: %q", conv.Title)
				return
			}
		}
		color.White("  still placeholder...")
	}
	color.Red("Title was not rewritten in time")
	os.Exit(1)
}
