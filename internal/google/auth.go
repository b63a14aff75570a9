package google

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
)

const (
	credentialsFile = "credentials.json"
	redirectURL     = "urn:ietf:wg:oauth:2.0:oob"
)

// GetOAuthConfigForAuthFlow is used by the auth command to get the config for the web flow.
func GetOAuthConfigForAuthFlow(clientID, clientSecret string) (*oauth2.Config, error) {
	return getOAuthConfig(clientID, clientSecret)
}

// getOAuthConfig reads credentials and returns an OAuth2 config.
// It prioritizes environment variables over a local credentials.json file.
func getOAuthConfig(clientID, clientSecret string) (*oauth2.Config, error) {
	if clientID != "" && clientSecret != "" {
		return &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       []string{calendar.CalendarScope},
			Endpoint:     google.Endpoint,
		}, nil
	}

	b, err := os.ReadFile(credentialsFile)
	if err != nil {
		if _, ok := err.(*fs.PathError); ok {
			return nil, fmt.Errorf("credentials.json not found. Please provide GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET env vars or place credentials.json in the working directory")
		}
		return nil, fmt.Errorf("unable to read client secret file: %w", err)
	}

	config, err := google.ConfigFromJSON(b, calendar.CalendarScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse client secret file to config: %w", err)
	}
	config.RedirectURL = redirectURL // For desktop app flow
	return config, nil
}

// TokenFromWeb is called by the auth flow to retrieve a token.
func TokenFromWeb(ctx context.Context, config *oauth2.Config, authCode string) (*oauth2.Token, error) {
	return config.Exchange(ctx, authCode)
}

// SaveToken stores the token of an account in tokenDir.
func SaveToken(tokenDir, account string, token *oauth2.Token) (string, error) {
	if err := os.MkdirAll(tokenDir, 0o700); err != nil {
		return "", fmt.Errorf("unable to create token directory: %w", err)
	}
	path := tokenPath(tokenDir, account)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return "", fmt.Errorf("unable to create token file: %w", err)
	}
	defer f.Close()
	return path, json.NewEncoder(f).Encode(token)
}

// tokenFromFile retrieves a token from a local file.
func tokenFromFile(file string) (*oauth2.Token, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	tok := &oauth2.Token{}
	err = json.NewDecoder(f).Decode(tok)
	return tok, err
}

func tokenPath(tokenDir, account string) string {
	return filepath.Join(tokenDir, "token-"+account+".json")
}

// GetTokenAccounts lists the accounts with a token file in dir, ordered by
// the file's modification time so that the first-authenticated account
// comes first.
func GetTokenAccounts(dir string) ([]string, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	type tokenFile struct {
		account string
		modTime time.Time
	}
	var found []tokenFile
	for _, file := range files {
		name := file.Name()
		if file.IsDir() || !strings.HasPrefix(name, "token-") || !strings.HasSuffix(name, ".json") {
			continue
		}
		info, err := file.Info()
		if err != nil {
			return nil, err
		}
		found = append(found, tokenFile{
			account: strings.TrimSuffix(strings.TrimPrefix(name, "token-"), ".json"),
			modTime: info.ModTime(),
		})
	}
	sort.SliceStable(found, func(i, j int) bool {
		if found[i].modTime.Equal(found[j].modTime) {
			return found[i].account < found[j].account
		}
		return found[i].modTime.Before(found[j].modTime)
	})

	accounts := make([]string, 0, len(found))
	for _, f := range found {
		accounts = append(accounts, f.account)
	}
	return accounts, nil
}
