package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/hotelbook/concierge/internal/api"
	"github.com/hotelbook/concierge/internal/config"
	"github.com/hotelbook/concierge/internal/knowledge"
	"github.com/hotelbook/concierge/internal/storage"
)

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask <message>",
	Short: "Send a guest message to the running server",
	Long: `Send a guest message through POST /bot-response and print the answer.
The exchange is stored under the given session like any chat message.

Examples:
  concierge ask "what time is check-in?"
  concierge ask --session guest-42 "do you have a spa?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		session, _ := cmd.Flags().GetString("session")
		asJSON, _ := cmd.Flags().GetBool("json")
		if session == "" {
			session = "cli-" + uuid.NewString()
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		out, err := askBot(cmd.Context(), client, session, strings.Join(args, " "))
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		if asJSON {
			enc := json.NewEncoder(w)
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		}
		if out.Blocked {
			printWarning("Session %s is handled by a human agent; the bot stayed silent", session)
			return nil
		}
		renderResponse(w, *out.ResponseData)
		return nil
	},
}

func init() {
	askCmd.Flags().String("session", "", "session id (default: a new cli-<uuid> session)")
	askCmd.Flags().Bool("json", false, "print the raw API response")
}

// askBot posts one utterance. A persistence failure still yields the answer
// with a warning.
func askBot(ctx context.Context, c *apiClient, session, message string) (api.BotResponse, error) {
	resp, err := c.post(ctx, "/bot-response", api.BotRequest{SessionID: session, UserMessage: message})
	if err != nil {
		return api.BotResponse{}, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return api.BotResponse{}, fmt.Errorf("reading response: %w", err)
	}
	var out api.BotResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return api.BotResponse{}, fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	switch {
	case out.Success:
		if !out.Blocked && out.ResponseData == nil {
			return out, errors.New("server returned no answer")
		}
		return out, nil
	case out.ResponseData != nil:
		printWarning("answer was not stored: %s", out.Error)
		return out, nil
	case out.Error != "":
		return out, fmt.Errorf("server returned %d: %s", resp.StatusCode, out.Error)
	default:
		return out, fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
}

// --- greeting ---

var greetingCmd = &cobra.Command{
	Use:   "greeting",
	Short: "Show the greeting shown to new guests",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/greeting")
		if err != nil {
			return err
		}
		if resp.StatusCode == http.StatusNotFound {
			resp.Body.Close()
			printWarning("No greeting configured (add an FAQ entry with topic %s)", knowledge.TopicGreeting)
			return nil
		}
		var g knowledge.Response
		if err := decodeJSON(resp, &g); err != nil {
			return err
		}
		renderResponse(cmd.OutOrStdout(), g)
		return nil
	},
}

// --- faq ---

var faqCmd = &cobra.Command{
	Use:   "faq",
	Short: "Manage FAQ entries and aliases",
}

var faqListCmd = &cobra.Command{
	Use:   "list",
	Short: "List FAQ entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), adminPrefix+"/faqs")
		if err != nil {
			return err
		}
		var faqs []api.FAQView
		if err := decodeJSON(resp, &faqs); err != nil {
			return err
		}
		if len(faqs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No FAQ entries.")
			return nil
		}
		for _, f := range faqs {
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %-14s %s  %s\n",
				colorize(colorCyan, shortID(f.ID)),
				f.Format,
				colorize(colorBold, f.Topic),
				truncate(f.ReplyMessage, 60),
			)
		}
		return nil
	},
}

var faqAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Create an FAQ entry",
	Long: `Create an FAQ entry. Structured replies take a JSON payload, inline or
from a file prefixed with @.

Examples:
  concierge faq add --topic "check-in time" --reply "Check-in is from 3pm."
  concierge faq add --topic "spa" --reply "Our treatments" --format option_details \
      --payload '[{"option":"Massage","detail":"60 minutes"}]'
  concierge faq add --topic "::fallback::" --reply "Sorry, I did not get that."`,
	RunE: func(cmd *cobra.Command, args []string) error {
		topic, _ := cmd.Flags().GetString("topic")
		reply, _ := cmd.Flags().GetString("reply")
		format, _ := cmd.Flags().GetString("format")
		payloadArg, _ := cmd.Flags().GetString("payload")
		aliases, _ := cmd.Flags().GetStringSlice("alias")

		if topic == "" {
			return errors.New("--topic is required")
		}
		req := api.FAQRequest{Topic: topic, ReplyMessage: reply, Format: format}
		if payloadArg != "" {
			payload, err := readPayload(payloadArg)
			if err != nil {
				return err
			}
			req.Payload = payload
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		resp, err := client.post(ctx, adminPrefix+"/faqs", req)
		if err != nil {
			return err
		}
		var created api.FAQView
		if err := decodeJSON(resp, &created); err != nil {
			return err
		}
		printSuccess("Created FAQ %s (%s)", created.ID, created.Topic)

		for _, a := range aliases {
			if err := addAlias(ctx, client, created.ID, a); err != nil {
				return err
			}
		}
		return nil
	},
}

var faqDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete an FAQ entry with its aliases",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.delete(cmd.Context(), adminPrefix+"/faqs/"+args[0])
		if err != nil {
			return err
		}
		if err := decodeJSON(resp, nil); err != nil {
			return err
		}
		printSuccess("Deleted FAQ %s", args[0])
		return nil
	},
}

var faqAliasCmd = &cobra.Command{
	Use:   "alias",
	Short: "Manage alternative phrasings of an FAQ entry",
}

var faqAliasAddCmd = &cobra.Command{
	Use:   "add <faq-id> <alias>",
	Short: "Add an alias",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return addAlias(cmd.Context(), client, args[0], strings.Join(args[1:], " "))
	},
}

var faqAliasDeleteCmd = &cobra.Command{
	Use:   "delete <alias-id>",
	Short: "Delete an alias",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.delete(cmd.Context(), adminPrefix+"/aliases/"+args[0])
		if err != nil {
			return err
		}
		if err := decodeJSON(resp, nil); err != nil {
			return err
		}
		printSuccess("Deleted alias %s", args[0])
		return nil
	},
}

func init() {
	faqAddCmd.Flags().String("topic", "", "topic the guest message is matched against")
	faqAddCmd.Flags().String("reply", "", "reply text (the title for structured replies)")
	faqAddCmd.Flags().String("format", "", "message | option_details | room_type")
	faqAddCmd.Flags().String("payload", "", "JSON payload for structured replies, or @file")
	faqAddCmd.Flags().StringSlice("alias", nil, "alias to add (repeatable)")

	faqAliasCmd.AddCommand(faqAliasAddCmd, faqAliasDeleteCmd)
	faqCmd.AddCommand(faqListCmd, faqAddCmd, faqDeleteCmd, faqAliasCmd)
}

func addAlias(ctx context.Context, c *apiClient, faqID, alias string) error {
	resp, err := c.post(ctx, adminPrefix+"/faqs/"+faqID+"/aliases", map[string]string{"alias": alias})
	if err != nil {
		return err
	}
	var view struct {
		ID string `json:"id"`
	}
	if err := decodeJSON(resp, &view); err != nil {
		return fmt.Errorf("adding alias %q: %w", alias, err)
	}
	printSuccess("Added alias %q (%s)", alias, view.ID)
	return nil
}

// readPayload returns arg as JSON, reading it from a file when it starts
// with @.
func readPayload(arg string) (json.RawMessage, error) {
	data := []byte(arg)
	if path, ok := strings.CutPrefix(arg, "@"); ok {
		var err error
		if data, err = os.ReadFile(path); err != nil {
			return nil, fmt.Errorf("reading payload: %w", err)
		}
	}
	if !json.Valid(data) {
		return nil, errors.New("payload is not valid JSON")
	}
	return json.RawMessage(data), nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// --- snippet ---

var snippetCmd = &cobra.Command{
	Use:   "snippet",
	Short: "Manage free-text hotel information used to ground answers",
}

var snippetAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a snippet from text, a web page, or a file",
	Long: `Add a snippet. Web pages are reduced to their visible text and PDFs to
their text layer.

Examples:
  concierge snippet add --text "Valet parking costs 30 EUR per night."
  concierge snippet add --url https://hotel.example/amenities
  concierge snippet add --file ./house-rules.pdf`,
	RunE: func(cmd *cobra.Command, args []string) error {
		text, _ := cmd.Flags().GetString("text")
		url, _ := cmd.Flags().GetString("url")
		file, _ := cmd.Flags().GetString("file")
		source, _ := cmd.Flags().GetString("source")

		req, err := snippetRequest(text, url, file)
		if err != nil {
			return err
		}
		if source != "" {
			req.Source = source
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), adminPrefix+"/snippets", req)
		if err != nil {
			return err
		}
		var created struct {
			ID      string `json:"id"`
			Content string `json:"content"`
		}
		if err := decodeJSON(resp, &created); err != nil {
			return err
		}
		printSuccess("Stored snippet %s (%d characters)", created.ID, len([]rune(created.Content)))
		return nil
	},
}

var snippetListCmd = &cobra.Command{
	Use:   "list",
	Short: "List snippets",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), adminPrefix+"/snippets")
		if err != nil {
			return err
		}
		var snippets []struct {
			ID      string `json:"id"`
			Content string `json:"content"`
			Source  string `json:"source"`
		}
		if err := decodeJSON(resp, &snippets); err != nil {
			return err
		}
		if len(snippets) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No snippets.")
			return nil
		}
		for _, s := range snippets {
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  %s\n", colorize(colorCyan, shortID(s.ID)), s.Source, truncate(s.Content, 70))
		}
		return nil
	},
}

var snippetDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a snippet",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.delete(cmd.Context(), adminPrefix+"/snippets/"+args[0])
		if err != nil {
			return err
		}
		if err := decodeJSON(resp, nil); err != nil {
			return err
		}
		printSuccess("Deleted snippet %s", args[0])
		return nil
	},
}

func init() {
	snippetAddCmd.Flags().String("text", "", "snippet text")
	snippetAddCmd.Flags().String("url", "", "web page or PDF to fetch")
	snippetAddCmd.Flags().String("file", "", "local text or PDF file")
	snippetAddCmd.Flags().String("source", "", "where the text came from (default: cli, the URL, or the file name)")
	snippetCmd.AddCommand(snippetAddCmd, snippetListCmd, snippetDeleteCmd)
}

// snippetRequest builds the admin request for exactly one of text, url or
// file. PDF files are sent base64-encoded and extracted by the server.
func snippetRequest(text, url, file string) (api.SnippetRequest, error) {
	set := 0
	for _, v := range []string{text, url, file} {
		if v != "" {
			set++
		}
	}
	if set != 1 {
		return api.SnippetRequest{}, errors.New("exactly one of --text, --url or --file is required")
	}

	switch {
	case text != "":
		return api.SnippetRequest{Type: "text", Source: "cli", Content: text}, nil
	case url != "":
		return api.SnippetRequest{Type: "url", Source: url, URL: url}, nil
	}

	data, err := os.ReadFile(file)
	if err != nil {
		return api.SnippetRequest{}, fmt.Errorf("reading file: %w", err)
	}
	name := filepath.Base(file)
	if strings.EqualFold(filepath.Ext(file), ".pdf") {
		return api.SnippetRequest{Type: "pdf", Source: name, Content: base64.StdEncoding.EncodeToString(data)}, nil
	}
	return api.SnippetRequest{Type: "text", Source: name, Content: string(data)}, nil
}

// --- reindex ---

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Queue re-embedding of every FAQ entry",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), adminPrefix+"/reindex", nil)
		if err != nil {
			return err
		}
		var result struct {
			Jobs int `json:"jobs"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Queued %d embedding jobs", result.Jobs)
		return nil
	},
}

// --- session ---

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect chat sessions and hand them to a human agent",
}

var sessionMessagesCmd = &cobra.Command{
	Use:   "messages <session-id>",
	Short: "Show the messages of a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), fmt.Sprintf("%s/sessions/%s/messages?limit=%d", adminPrefix, args[0], limit))
		if err != nil {
			return err
		}
		var msgs []storage.Message
		if err := decodeJSON(resp, &msgs); err != nil {
			return err
		}
		if len(msgs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No messages.")
			return nil
		}
		for _, m := range msgs {
			who := colorize(colorGreen, "guest")
			if m.IsBot {
				who = colorize(colorCyan, "bot  ")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  %s\n", m.CreatedAt.Format("2006-01-02 15:04:05"), who, truncate(m.Text, 100))
		}
		return nil
	},
}

var sessionTakeoverCmd = &cobra.Command{
	Use:   "takeover <session-id> <on|off>",
	Short: "Silence or resume the bot for a session",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var on bool
		switch strings.ToLower(args[1]) {
		case "on":
			on = true
		case "off":
		default:
			return fmt.Errorf("state must be on or off, got %q", args[1])
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.put(cmd.Context(), adminPrefix+"/sessions/"+args[0]+"/takeover", map[string]bool{"on": on})
		if err != nil {
			return err
		}
		if err := decodeJSON(resp, nil); err != nil {
			return err
		}
		if on {
			printSuccess("Session %s handed to a human agent", args[0])
		} else {
			printSuccess("Bot resumed for session %s", args[0])
		}
		return nil
	},
}

func init() {
	sessionMessagesCmd.Flags().Int("limit", 50, "maximum number of messages")
	sessionCmd.AddCommand(sessionMessagesCmd, sessionTakeoverCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s = %s  (%s)\n", colorize(colorBold, k.Key), k.Value, k.EnvVar)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]
		if err := config.SetKey(key, value); err != nil {
			return fmt.Errorf("%w (valid keys: %s)", err, strings.Join(config.ValidKeys(), ", "))
		}
		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd, configSetCmd)
}
