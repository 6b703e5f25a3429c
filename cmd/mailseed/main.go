// Command mailseed delivers a few test messages to a running tempmail
// instance over SMTP, then walks the HTTP API: inbox listing, saving an
// address, redeeming the token and the dashboard counters.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
)

const sender = "sender@seed.tempmail.test"

type messageSummary struct {
	ID        string `json:"id"`
	Subject   string `json:"subject"`
	CreatedAt string `json:"created_at"`
}

type accessResponse struct {
	AccessToken string `json:"access_token"`
	AccessURL   string `json:"access_url"`
	ExpiresAt   string `json:"expires_at"`
}

type savedResponse struct {
	Email         string `json:"email"`
	DaysRemaining int    `json:"days_remaining"`
}

type dashboardResponse struct {
	Today int64 `json:"today"`
	Week  int64 `json:"week"`
	Month int64 `json:"month"`
}

func main() {
	baseURL := getenvDefault("TEMPMAIL_URL", "http://localhost:4000")
	smtpAddr := getenvDefault("TEMPMAIL_SMTP", "localhost:2525")
	smtpUser := os.Getenv("SMTP_USERNAME")
	smtpPass := os.Getenv("SMTP_PASSWORD")

	client := &http.Client{Timeout: 10 * time.Second}

	userA := "seed1@tempmail.test"
	userB := "seed2@tempmail.test"

	fmt.Println("Sending test emails...")
	send(smtpAddr, smtpUser, smtpPass, []string{userA}, buildTestMessage("Seed 1 - HTML + Text", userA))
	send(smtpAddr, smtpUser, smtpPass, []string{userB}, buildTestMessage("Seed 2 - HTML + Text", userB))
	send(smtpAddr, smtpUser, smtpPass, []string{userA, userB}, buildTestMessage("Seed 3 - Multi-recipient", userA, userB))

	// ingestion is asynchronous
	time.Sleep(500 * time.Millisecond)

	fmt.Println("Inboxes:")
	for _, address := range []string{userA, userB} {
		var messages []messageSummary
		mustGet(client, baseURL+"/inbox/"+url.PathEscape(address), &messages)
		fmt.Printf("- %s messages=%d\n", address, len(messages))
		for _, message := range messages {
			fmt.Printf("    %s  %s  %s\n", message.CreatedAt, message.ID, message.Subject)
		}
	}

	fmt.Println("Saving", userA)
	var access accessResponse
	mustPost(client, baseURL+"/save-email", map[string]string{"email": userA}, &access)
	fmt.Printf("- token=%s expires=%s\n- url=%s\n", access.AccessToken, access.ExpiresAt, access.AccessURL)

	var saved savedResponse
	mustGet(client, baseURL+"/saved/"+access.AccessToken, &saved)
	fmt.Printf("- redeemed %s, %d days remaining\n", saved.Email, saved.DaysRemaining)

	var dashboard dashboardResponse
	mustGet(client, baseURL+"/dashboard-data", &dashboard)
	fmt.Printf("Dashboard: today=%d week=%d month=%d\n", dashboard.Today, dashboard.Week, dashboard.Month)
}

func send(addr, username, password string, to []string, msg []byte) {
	var auth sasl.Client
	if username != "" || password != "" {
		auth = sasl.NewPlainClient("", username, password)
	}
	if err := smtp.SendMail(addr, auth, sender, to, bytes.NewReader(msg)); err != nil {
		fmt.Fprintln(os.Stderr, "smtp error:", err)
	}
}

func buildTestMessage(subject string, recipients ...string) []byte {
	var h mail.Header
	h.SetDate(time.Now())
	h.SetSubject(subject)
	h.SetAddressList("From", []*mail.Address{{Name: "Seeder", Address: sender}})
	to := make([]*mail.Address, 0, len(recipients))
	for _, recipient := range recipients {
		to = append(to, &mail.Address{Address: recipient})
	}
	h.SetAddressList("To", to)

	list := strings.Join(recipients, ", ")
	text := "Hello!\n\nThis is a tempmail seed message.\n\nRecipients: " + list + "\n"
	html := "<html><body><h2>tempmail seed</h2><p>This is a seed message.</p><p><strong>Recipients:</strong> " + list + "</p></body></html>"

	var buf bytes.Buffer
	mw, err := mail.CreateWriter(&buf, h)
	if err != nil {
		panic(err)
	}
	alt, err := mw.CreateInline()
	if err != nil {
		panic(err)
	}
	writePart(alt, "text/plain", text)
	writePart(alt, "text/html", html)
	if err := alt.Close(); err != nil {
		panic(err)
	}
	if err := mw.Close(); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

func writePart(alt *mail.InlineWriter, contentType, body string) {
	var ph mail.InlineHeader
	ph.SetContentType(contentType, map[string]string{"charset": "utf-8"})
	w, err := alt.CreatePart(ph)
	if err != nil {
		panic(err)
	}
	if _, err := io.WriteString(w, body); err != nil {
		panic(err)
	}
	if err := w.Close(); err != nil {
		panic(err)
	}
}

func mustGet(client *http.Client, target string, v any) {
	mustDecode(mustDo(client, http.MethodGet, target, nil), v)
}

func mustPost(client *http.Client, target string, payload any, v any) {
	body, err := json.Marshal(payload)
	if err != nil {
		panic(err)
	}
	mustDecode(mustDo(client, http.MethodPost, target, bytes.NewReader(body)), v)
}

func mustDo(client *http.Client, method, target string, body io.Reader) *http.Response {
	req, err := http.NewRequest(method, target, body)
	if err != nil {
		panic(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := client.Do(req)
	if err != nil {
		panic(err)
	}
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		panic(fmt.Sprintf("request failed: %s %s: %s", method, target, string(b)))
	}
	return resp
}

func mustDecode(resp *http.Response, v any) {
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		panic(err)
	}
}

func getenvDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
