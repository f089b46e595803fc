package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/fatih/color"

	"github.com/signetd/signet/internal/broker"
	"github.com/signetd/signet/internal/eventbus"
	"github.com/signetd/signet/internal/policy"
	"github.com/signetd/signet/internal/website"
)

var (
	app    = kingpin.New("signetctl", "Control a running signetd permission broker")
	addr   = app.Flag("addr", "Base URL of the signetd API").Default("http://localhost:3800").Envar("SIGNET_ADDR").String()
	apiKey = app.Flag("api-key", "API key for the signetd API").Envar("SIGNET_API_KEY").Required().String()

	// Site commands
	sitesCmd = app.Command("sites", "Site permission commands")

	sitesListCmd = sitesCmd.Command("list", "List known sites and their permissions")

	sitesForgetCmd    = sitesCmd.Command("forget", "Remove a site's permissions and history")
	sitesForgetDomain = sitesForgetCmd.Arg("domain", "Site origin, e.g. https://example.com").Required().String()

	// Relay commands
	relaysCmd = app.Command("relays", "Relay list commands")

	relaysListCmd = relaysCmd.Command("list", "Show the advertised relays")

	relaysSetCmd  = relaysCmd.Command("set", "Replace the advertised relays")
	relaysSetURLs = relaysSetCmd.Arg("urls", "Relay URLs").Required().Strings()

	// Prompt commands
	respondCmd      = app.Command("respond", "Answer a pending permission prompt")
	respondID       = respondCmd.Arg("request-id", "Pending request id").Required().String()
	respondAccept   = respondCmd.Flag("accept", "Grant the request").Bool()
	respondReject   = respondCmd.Flag("reject", "Deny the request").Bool()
	respondAlways   = respondCmd.Flag("always", "Make the decision permanent").Bool()
	respondDuration = respondCmd.Flag("duration", "Validity window for a temporary decision").Default("5m").Duration()
	respondDismiss  = respondCmd.Flag("dismiss", "Dismiss the prompt without a decision").Bool()

	watchCmd = app.Command("watch", "Stream broker events")
)

func main() {
	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	var err error
	switch command {
	case sitesListCmd.FullCommand():
		err = handleSitesList()
	case sitesForgetCmd.FullCommand():
		err = handleSitesForget(*sitesForgetDomain)
	case relaysListCmd.FullCommand():
		err = handleRelaysList()
	case relaysSetCmd.FullCommand():
		err = handleRelaysSet(*relaysSetURLs)
	case respondCmd.FullCommand():
		err = handleRespond()
	case watchCmd.FullCommand():
		err = handleWatch()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func doRequest(method, path string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, strings.TrimRight(*addr, "/")+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-API-Key", *apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		data, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, strings.TrimSpace(string(data)))
	}
	return resp, nil
}

func getJSON(path string, out any) error {
	resp, err := doRequest(http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(out)
}

func handleSitesList() error {
	var sites []*website.WebSite
	if err := getJSON("/api/websites", &sites); err != nil {
		return err
	}
	if len(sites) == 0 {
		fmt.Println("No sites known.")
		return nil
	}
	bold := color.New(color.Bold)
	for _, site := range sites {
		bold.Println(site.Domain)
		p := site.Permission
		state := color.YellowString("undecided")
		if site.Auth {
			switch {
			case p.Reject:
				state = color.RedString("rejected")
			case p.Accept:
				state = color.GreenString("accepted")
			}
		}
		window := "permanent"
		if !p.Always && p.ExpiresAt != nil {
			window = "until " + p.ExpiresAt.Local().Format(time.RFC3339)
		}
		fmt.Printf("  %s (%s), %d history entries\n", state, window, len(site.History))
	}
	return nil
}

func handleSitesForget(domain string) error {
	resp, err := doRequest(http.MethodDelete, "/api/websites?domain="+url.QueryEscape(domain), nil)
	if err != nil {
		return err
	}
	resp.Body.Close()
	fmt.Printf("Forgot %s\n", domain)
	return nil
}

func handleRelaysList() error {
	var relays []struct {
		URL string `json:"url"`
	}
	if err := getJSON("/api/profile/relays", &relays); err != nil {
		return err
	}
	for _, relay := range relays {
		fmt.Println(relay.URL)
	}
	return nil
}

func handleRelaysSet(urls []string) error {
	relays := make([]map[string]string, 0, len(urls))
	for _, u := range urls {
		relays = append(relays, map[string]string{"url": u})
	}
	resp, err := doRequest(http.MethodPut, "/api/profile/relays", relays)
	if err != nil {
		return err
	}
	resp.Body.Close()
	fmt.Printf("Set %d relays\n", len(relays))
	return nil
}

func handleRespond() error {
	res := broker.Result{RequestID: *respondID}
	switch {
	case *respondDismiss:
		res.Response = &broker.ResultResponse{
			Error: &broker.ResponseError{Message: "prompt dismissed", Stack: "prompt dismissed"},
		}
	case *respondAccept == *respondReject:
		return fmt.Errorf("exactly one of --accept and --reject is required")
	default:
		res.Response = &broker.ResultResponse{
			Permission: &policy.Choice{
				Always:   *respondAlways,
				Accept:   *respondAccept,
				Reject:   *respondReject,
				Duration: time.Now().Add(*respondDuration),
			},
		}
	}
	resp, err := doRequest(http.MethodPost, "/api/results", res)
	if err != nil {
		return err
	}
	resp.Body.Close()
	fmt.Printf("Responded to %s\n", *respondID)
	return nil
}

func handleWatch() error {
	resp, err := doRequest(http.MethodGet, "/api/events", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	cyan := color.New(color.FgCyan)
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var event eventbus.Event
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event); err != nil {
			continue
		}
		cyan.Printf("%s %s", event.CreatedAt.Local().Format("15:04:05"), event.Type)
		fmt.Printf(" %s", event.ResourceID)
		for k, v := range event.Metadata {
			fmt.Printf(" %s=%s", k, v)
		}
		fmt.Println()
	}
	return scanner.Err()
}
