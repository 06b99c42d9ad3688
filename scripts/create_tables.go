package main

import (
	"database/sql"
	"fmt"
	"log"
	"os"

	_ "github.com/lib/pq"
)

// Bootstrap script for environments where the service account has no DDL
// rights and AutoMigrate cannot run. Mirrors the gorm model definitions.
func main() {
	fmt.Println("Creating knowledge service database tables...")

	dsn := os.Getenv("DATABASE_DSN")
	if dsn == "" {
		dsn = "host=localhost port=5432 user=rmsuser password=rmspassword dbname=rms_knowledge sslmode=disable"
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err = db.Ping(); err != nil {
		log.Fatalf("Failed to ping database: %v", err)
	}
	fmt.Println("✅ Connected to database")

	fmt.Println("Creating knowledge schema...")
	if _, err = db.Exec(`CREATE SCHEMA IF NOT EXISTS knowledge`); err != nil {
		log.Fatalf("Failed to create schema: %v", err)
	}
	fmt.Println("✅ Schema created/verified")

	statements := []struct {
		name string
		sql  string
	}{
		{"documents", `
	CREATE TABLE IF NOT EXISTS knowledge.documents (
		id SERIAL PRIMARY KEY,
		filename VARCHAR(512) NOT NULL,
		original_filename VARCHAR(512) NOT NULL,
		file_path VARCHAR(1024) NOT NULL,
		file_size BIGINT NOT NULL,
		file_type VARCHAR(32) NOT NULL,
		mime_type VARCHAR(128),
		title VARCHAR(512),
		description TEXT,
		section VARCHAR(128) NOT NULL,
		access_level VARCHAR(128) NOT NULL,
		is_processed BOOLEAN DEFAULT FALSE,
		state VARCHAR(32) NOT NULL DEFAULT 'uploaded',
		processing_error TEXT,
		has_images BOOLEAN DEFAULT FALSE,
		text_content TEXT,
		extracted_metadata JSONB,
		uploaded_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		processed_at TIMESTAMPTZ
	)`},
		{"documents section index", `
	CREATE INDEX IF NOT EXISTS idx_documents_section ON knowledge.documents(section)`},
		{"documents access level index", `
	CREATE INDEX IF NOT EXISTS idx_documents_access_level ON knowledge.documents(access_level)`},
		{"document_chunks", `
	CREATE TABLE IF NOT EXISTS knowledge.document_chunks (
		id SERIAL PRIMARY KEY,
		document_id INTEGER NOT NULL REFERENCES knowledge.documents(id) ON DELETE CASCADE,
		chunk_index INTEGER NOT NULL,
		content TEXT NOT NULL,
		content_length INTEGER NOT NULL,
		embedding_id VARCHAR(64),
		page_number INTEGER,
		section_name VARCHAR(512),
		sheet_name VARCHAR(256),
		chunk_type VARCHAR(32) NOT NULL DEFAULT 'text',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CONSTRAINT idx_document_chunk UNIQUE (document_id, chunk_index)
	)`},
		{"conversations", `
	CREATE TABLE IF NOT EXISTS knowledge.conversations (
		id SERIAL PRIMARY KEY,
		session_id VARCHAR(128) NOT NULL UNIQUE,
		user_id VARCHAR(255) NOT NULL,
		title VARCHAR(512),
		user_context TEXT,
		current_section VARCHAR(128),
		document_context JSONB DEFAULT '[]',
		search_context JSONB DEFAULT '[]',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		last_activity TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`},
		{"conversations user index", `
	CREATE INDEX IF NOT EXISTS idx_conversations_user_id ON knowledge.conversations(user_id)`},
		{"conversations activity index", `
	CREATE INDEX IF NOT EXISTS idx_conversations_last_activity ON knowledge.conversations(last_activity)`},
		{"conversation_messages", `
	CREATE TABLE IF NOT EXISTS knowledge.conversation_messages (
		id SERIAL PRIMARY KEY,
		conversation_id INTEGER NOT NULL REFERENCES knowledge.conversations(id) ON DELETE CASCADE,
		role VARCHAR(16) NOT NULL,
		content TEXT NOT NULL,
		search_query TEXT,
		search_results JSONB,
		used_sections JSONB,
		context_relevance_score DOUBLE PRECISION,
		source_chunks JSONB,
		source_documents JSONB,
		tokens_used INTEGER,
		processing_time DOUBLE PRECISION,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`},
		{"messages conversation index", `
	CREATE INDEX IF NOT EXISTS idx_messages_conversation_id ON knowledge.conversation_messages(conversation_id)`},
	}

	for _, stmt := range statements {
		fmt.Printf("Creating %s...\n", stmt.name)
		if _, err := db.Exec(stmt.sql); err != nil {
			log.Fatalf("Failed to create %s: %v", stmt.name, err)
		}
	}

	fmt.Println("✅ All tables created")
}
