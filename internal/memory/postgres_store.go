package memory

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"sort"

	"github.com/lib/pq"
	"github.com/n8watkins/GeminiGPT-sub000/internal/models"
)

//go:embed migrations.sql
var migrations embed.FS

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// PostgresStore keeps embedding records in Postgres. Candidate rows are
// fetched scoped by user (and optionally conversation) and ranked by
// cosine similarity in-process.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(config DatabaseConfig) (*PostgresStore, error) {
	connStr := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		config.Host, config.Port, config.User, config.Password, config.DBName, config.SSLMode)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("error connecting to the database: %w", err)
	}

	store := &PostgresStore{db: db}
	if err := store.initializeSchema(); err != nil {
		return nil, fmt.Errorf("error initializing database schema: %w", err)
	}
	return store, nil
}

func (s *PostgresStore) initializeSchema() error {
	migrationSQL, err := migrations.ReadFile("migrations.sql")
	if err != nil {
		return fmt.Errorf("error reading migrations file: %w", err)
	}
	if _, err := s.db.Exec(string(migrationSQL)); err != nil {
		return fmt.Errorf("error executing migrations: %w", err)
	}
	return nil
}

func (s *PostgresStore) Insert(ctx context.Context, record models.EmbeddingRecord) error {
	query := `
		INSERT INTO embeddings (id, user_id, conversation_id, message_id, content, role, vector, conversation_title, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := s.db.ExecContext(ctx, query,
		record.ID,
		record.UserID,
		record.ConversationID,
		record.MessageID,
		record.Content,
		string(record.Role),
		pq.Array(record.Vector),
		record.ConversationTitle,
		record.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("error inserting embedding record: %w", err)
	}
	return nil
}

func (s *PostgresStore) Query(ctx context.Context, vector []float32, filter Filter, topK int) ([]models.SearchResult, error) {
	query := `
		SELECT id, user_id, conversation_id, message_id, content, role, vector, conversation_title, created_at
		FROM embeddings
		WHERE user_id = $1`
	args := []any{filter.UserID}
	if filter.ConversationID != "" {
		query += ` AND conversation_id = $2`
		args = append(args, filter.ConversationID)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error querying embeddings: %w", err)
	}
	defer rows.Close()

	var results []models.SearchResult
	for rows.Next() {
		var rec models.EmbeddingRecord
		var role string
		var vec pq.Float32Array
		err := rows.Scan(
			&rec.ID,
			&rec.UserID,
			&rec.ConversationID,
			&rec.MessageID,
			&rec.Content,
			&role,
			&vec,
			&rec.ConversationTitle,
			&rec.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("error scanning embedding record: %w", err)
		}
		rec.Role = models.Role(role)
		rec.Vector = []float32(vec)
		results = append(results, models.SearchResult{
			Record: rec,
			Score:  cosineSimilarity(vector, rec.Vector),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating embedding rows: %w", err)
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

func (s *PostgresStore) Delete(ctx context.Context, filter Filter) error {
	query := `DELETE FROM embeddings WHERE user_id = $1`
	args := []any{filter.UserID}
	if filter.ConversationID != "" {
		query += ` AND conversation_id = $2`
		args = append(args, filter.ConversationID)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("error deleting embedding records: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
