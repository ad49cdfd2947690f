package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/digkill/skechum/internal/models"
)

// ImageFilter narrows gallery queries. Zero values mean "no filter".
type ImageFilter struct {
	UserID string
	Style  models.Style
	Query  string
	Limit  int
	Offset int
}

type ImageRepository struct {
	db *sql.DB
}

func NewImageRepository(db *sql.DB) *ImageRepository {
	return &ImageRepository{db: db}
}

const imageColumns = `id, user_id, image_url, prompt, style, format, model, size, steps, provider, COALESCE(storage_key, ''), generation_time_ms, downloads, created_at`

func (r *ImageRepository) Create(ctx context.Context, img *models.UserImage) error {
	if img.ID == "" {
		img.ID = uuid.NewString()
	}
	const query = `
INSERT INTO user_images (id, user_id, image_url, prompt, style, format, model, size, steps, provider, storage_key, generation_time_ms)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NULLIF($11, ''), $12)
RETURNING created_at`
	row := r.db.QueryRowContext(ctx, query,
		img.ID, img.UserID, img.ImageURL, img.Prompt, img.Style, img.Format,
		img.Settings.Model, img.Settings.Size, img.Settings.Steps,
		img.Provider, img.StorageKey, img.GenerationTimeMs,
	)
	if err := row.Scan(&img.CreatedAt); err != nil {
		return fmt.Errorf("insert user image: %w", err)
	}
	return nil
}

func (r *ImageRepository) GetByID(ctx context.Context, id string) (*models.UserImage, error) {
	query := `SELECT ` + imageColumns + ` FROM user_images WHERE id = $1`
	img, err := scanImage(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan user image: %w", err)
	}
	return img, nil
}

// List returns images newest first.
func (r *ImageRepository) List(ctx context.Context, f ImageFilter) ([]models.UserImage, error) {
	var (
		where []string
		args  []any
	)
	if f.UserID != "" {
		args = append(args, f.UserID)
		where = append(where, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if f.Style != "" {
		args = append(args, f.Style)
		where = append(where, fmt.Sprintf("style = $%d", len(args)))
	}
	if q := strings.TrimSpace(f.Query); q != "" {
		args = append(args, "%"+escapeLike(q)+"%")
		where = append(where, fmt.Sprintf("prompt ILIKE $%d", len(args)))
	}

	var b strings.Builder
	b.WriteString(`SELECT ` + imageColumns + ` FROM user_images`)
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	args = append(args, f.Limit, f.Offset)
	fmt.Fprintf(&b, " ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("list user images: %w", err)
	}
	defer rows.Close()

	images := []models.UserImage{}
	for rows.Next() {
		img, err := scanImage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user image: %w", err)
		}
		images = append(images, *img)
	}
	return images, rows.Err()
}

// AddDownloads applies batched download increments keyed by image id.
func (r *ImageRepository) AddDownloads(ctx context.Context, counts map[string]int64) error {
	if len(counts) == 0 {
		return nil
	}
	ids := make([]string, 0, len(counts))
	for id := range counts {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `UPDATE user_images SET downloads = downloads + $2 WHERE id = $1`)
	if err != nil {
		return fmt.Errorf("prepare downloads update: %w", err)
	}
	defer stmt.Close()

	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, id, counts[id]); err != nil {
			return fmt.Errorf("update downloads for %s: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit downloads: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanImage(row rowScanner) (*models.UserImage, error) {
	var img models.UserImage
	err := row.Scan(
		&img.ID, &img.UserID, &img.ImageURL, &img.Prompt, &img.Style, &img.Format,
		&img.Settings.Model, &img.Settings.Size, &img.Settings.Steps,
		&img.Provider, &img.StorageKey, &img.GenerationTimeMs, &img.Downloads, &img.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &img, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
