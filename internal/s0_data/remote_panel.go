package s0_data

import (
	"context"
	"fmt"
	"strings"

	"github.com/andrewhall1124/backtest-test/internal/contracts"
	"github.com/andrewhall1124/backtest-test/pkg/httputil"
)

// RemoteCSVPanelStore implements contracts.PanelStore on a CSV served over HTTP
type RemoteCSVPanelStore struct {
	client *httputil.Client
	url    string
}

// NewRemoteCSVPanelStore creates a store downloading url on every load
func NewRemoteCSVPanelStore(client *httputil.Client, url string) *RemoteCSVPanelStore {
	return &RemoteCSVPanelStore{client: client, url: url}
}

// LoadAssets downloads the export and applies the query in memory
func (s *RemoteCSVPanelStore) LoadAssets(ctx context.Context, q contracts.PanelQuery) ([]contracts.AssetDateRecord, error) {
	body, err := s.client.Download(ctx, s.url)
	if err != nil {
		return nil, fmt.Errorf("download panel csv: %w", err)
	}
	defer body.Close()

	return ReadPanelCSV(ctx, body, q)
}

// IsRemote reports whether a panel location must be fetched over HTTP
func IsRemote(location string) bool {
	lower := strings.ToLower(location)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}
