package novasite

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/genesinova/novasite/media"
)

const maxUploadSize = 25 << 20 // 25MB

// uploadName converts an uploaded filename to a slug id with a lowercase
// extension, e.g. "Choir Photo.JPG" becomes "choir-photo.jpg".
func uploadName(name string) (id, file string) {
	ext := strings.ToLower(filepath.Ext(name))
	id = Slugify(strings.TrimSuffix(name, filepath.Ext(name)))
	if id == "" {
		id = "image"
	}
	return id, id + ext
}

// ensureUniqueID appends a counter while any raw file or manifest entry
// already uses id.
func (a *App) ensureUniqueID(id string) (string, error) {
	ids, err := a.Media.IDs()
	if err != nil {
		return "", err
	}
	taken := make(map[string]bool, len(ids))
	for _, existing := range ids {
		taken[existing] = true
	}
	assets, _, err := media.Scan(a.Config.Media.InputDir)
	if err != nil {
		return "", err
	}
	for _, raw := range assets {
		taken[raw.ID] = true
	}
	candidate := id
	for counter := 2; taken[candidate]; counter++ {
		candidate = fmt.Sprintf("%s-%d", id, counter)
	}
	return candidate, nil
}

// runPipeline runs one optimization pass and refreshes the manifest cache.
// Callers hold mediaMu.
func (a *App) runPipeline(ctx context.Context) (*media.Report, error) {
	rep, err := a.pipeline.Run(ctx)
	a.Media.Invalidate()
	return rep, err
}

type uploadResponse struct {
	ID        string               `json:"id"`
	Processed []string             `json:"processed"`
	Failed    map[string]string    `json:"failed,omitempty"`
	Image     *media.ManifestEntry `json:"image,omitempty"`
}

func (a *App) handleImageUpload(c echo.Context) error {
	file, err := c.FormFile("image")
	if err != nil {
		return jsonError(c, http.StatusBadRequest, "No image file provided")
	}
	if file.Size > maxUploadSize {
		return jsonError(c, http.StatusBadRequest, "File too large (max 25MB)")
	}
	if !media.IsSupported(file.Filename) {
		return jsonError(c, http.StatusBadRequest, "Unsupported image type")
	}

	src, err := file.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	id, name := uploadName(file.Filename)
	ext := filepath.Ext(name)

	a.mediaMu.Lock()
	defer a.mediaMu.Unlock()

	if id, err = a.ensureUniqueID(id); err != nil {
		return err
	}
	dir := a.Config.Media.InputDir
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create input dir: %w", err)
	}
	path := filepath.Join(dir, id+ext)
	dst, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("create raw image: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(path)
		return fmt.Errorf("write raw image: %w", err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(path)
		return fmt.Errorf("write raw image: %w", err)
	}
	a.log.Info("raw image uploaded", zap.String("id", id), zap.Int64("bytes", file.Size))

	rep, err := a.runPipeline(c.Request().Context())
	if err != nil {
		return err
	}
	resp := uploadResponse{ID: id, Processed: rep.Processed}
	if resp.Processed == nil {
		resp.Processed = []string{}
	}
	if len(rep.Failed) > 0 {
		resp.Failed = make(map[string]string, len(rep.Failed))
		for k, v := range rep.Failed {
			resp.Failed[k] = v.Error()
		}
	}
	if entry, ok := rep.Manifest.Get(id); ok {
		resp.Image = &entry
	}
	if resp.Image == nil {
		// The file was stored but could not be processed.
		return c.JSON(http.StatusUnprocessableEntity, resp)
	}
	return c.JSON(http.StatusCreated, resp)
}

// handleImageList returns every manifest entry with its raw metadata.
func (a *App) handleImageList(c echo.Context) error {
	ids, err := a.Media.IDs()
	if err != nil {
		return err
	}
	entries := make([]media.ManifestEntry, 0, len(ids))
	for _, id := range ids {
		e, err := a.Media.Get(id)
		if err != nil {
			continue
		}
		entries = append(entries, e)
	}
	return c.JSON(http.StatusOK, map[string]any{"images": entries})
}

// handleImageDelete removes the raw file and generated variants for an id,
// then drops its manifest entry.
func (a *App) handleImageDelete(c echo.Context) error {
	id := c.Param("id")
	if id == "" || id != filepath.Base(id) {
		return jsonError(c, http.StatusBadRequest, "Invalid id")
	}

	a.mediaMu.Lock()
	defer a.mediaMu.Unlock()

	cfg := a.Config.Media
	m, err := media.LoadManifest(cfg.ManifestPath)
	if err != nil {
		return err
	}
	entry, ok := m.Get(id)
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "Image not found")
	}

	assets, _, err := media.Scan(cfg.InputDir)
	if err != nil {
		return err
	}
	for _, raw := range assets {
		if raw.ID == id {
			if err := os.Remove(raw.Path); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("remove raw image: %w", err)
			}
		}
	}
	for _, name := range cfg.OutputFiles(entry) {
		_ = os.Remove(filepath.Join(cfg.OutputDir, filepath.FromSlash(name)))
	}

	keep := make(map[string]bool, len(m))
	for _, other := range m.IDs() {
		keep[other] = other != id
	}
	pruned, _ := m.Prune(keep)
	if err := media.SaveManifest(cfg.ManifestPath, pruned); err != nil {
		return err
	}
	a.Media.Invalidate()
	a.log.Info("image deleted", zap.String("id", id))
	return c.JSON(http.StatusOK, map[string]bool{"success": true})
}
