// Smoke-check for the API service: issue a token, join a room, fetch its
// history page, resolve it.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
)

type TokenResponse struct {
	Token string `json:"token"`
}

func main() {
	apiAddr := "http://localhost:8081"
	roomID := "verify-room"

	// 1. Token
	reqBody, _ := json.Marshal(map[string]string{"operator_id": "verify_op", "label": "Verifier"})
	resp, err := http.Post(apiAddr+"/token", "application/json", bytes.NewBuffer(reqBody))
	if err != nil {
		log.Fatal(err)
	}
	defer resp.Body.Close()

	var tokenResp TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		log.Fatal(err)
	}
	fmt.Printf("Token: %s...\n", tokenResp.Token[:10])

	do := func(method, path string) []byte {
		req, _ := http.NewRequest(method, apiAddr+path, nil)
		req.Header.Add("Authorization", "Bearer "+tokenResp.Token)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			log.Fatalf("%s %s failed: %v", method, path, err)
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		log.Printf("%s %s -> %s: %s", method, path, resp.Status, body)
		return body
	}

	// 2. Join, history page, resolve (twice: second must also succeed)
	do("POST", "/rooms/"+roomID+"/join")
	do("GET", "/history?room_id="+roomID+"&offset=0&limit=10")
	do("POST", "/rooms/"+roomID+"/resolve")
	do("POST", "/rooms/"+roomID+"/resolve")
}
