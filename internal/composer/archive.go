package composer

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"storyreel/internal/domain"
	"storyreel/pkg/zip"
)

// Archive downloads every asset recorded under the project and streams them
// to w as one zip file. Assets whose bytes cannot be fetched are skipped with
// a log line; the archive fails only when nothing at all could be collected.
func (c *Composer) Archive(ctx context.Context, projectID string, w io.Writer) error {
	if projectID == "" {
		return fmt.Errorf("%w: project id is required", domain.ErrValidation)
	}
	assets, err := c.assets.ListByProject(ctx, projectID)
	if err != nil {
		return err
	}
	if len(assets) == 0 {
		return fmt.Errorf("%w: project %s has no assets", domain.ErrNotFound, projectID)
	}

	var entries []zip.Entry
	for _, asset := range assets {
		data, err := c.download(ctx, asset.URL)
		if err != nil {
			c.logger.Warn().Err(err).Str("asset_id", asset.ID).Msg("skipping unreadable asset in archive")
			continue
		}
		entries = append(entries, zip.Entry{Name: archiveName(asset), Data: data})
	}
	if len(entries) == 0 {
		return fmt.Errorf("%w: no asset could be read", domain.ErrStorage)
	}
	return zip.Write(w, entries)
}

func (c *Composer) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: status %d", url, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// archiveName builds a stable, unique name inside the archive. The asset id
// disambiguates scenes with several artifacts of the same kind.
func archiveName(asset domain.Asset) string {
	ext := path.Ext(asset.URL)
	if ext == "" || len(ext) > 5 {
		ext = extensionForFormat(asset.Format)
	}
	scene := asset.SceneID
	if scene == "" {
		scene = "project"
	}
	return fmt.Sprintf("%s/%s-%s%s", scene, asset.Kind, asset.ID, ext)
}

func extensionForFormat(format string) string {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "image/png":
		return ".png"
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "audio/mpeg", "audio/mp3":
		return ".mp3"
	case "video/mp4":
		return ".mp4"
	default:
		return ".bin"
	}
}
