package database

import (
	"context"
	"fmt"
)

// Schema creates the tables the repository reads and writes
const Schema = `
CREATE TABLE IF NOT EXISTS compositions (
	id          UUID PRIMARY KEY,
	owner_id    TEXT NOT NULL DEFAULT '',
	name        TEXT NOT NULL DEFAULT '',
	settings    JSONB NOT NULL,
	version     INTEGER NOT NULL DEFAULT 1,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS sources (
	id               UUID PRIMARY KEY,
	url              TEXT NOT NULL,
	width            INTEGER NOT NULL,
	height           INTEGER NOT NULL,
	fps              DOUBLE PRECISION NOT NULL,
	duration_frames  INTEGER NOT NULL DEFAULT 0,
	has_audio        BOOLEAN NOT NULL DEFAULT FALSE,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS clips (
	id                    UUID PRIMARY KEY,
	composition_id        UUID NOT NULL REFERENCES compositions(id) ON DELETE CASCADE,
	source_media_id       UUID NOT NULL REFERENCES sources(id),
	source_in_frame       INTEGER NOT NULL,
	source_out_frame      INTEGER NOT NULL,
	timeline_start_frame  INTEGER NOT NULL,
	speed                 DOUBLE PRECISION NOT NULL DEFAULT 1,
	opacity               DOUBLE PRECISION NOT NULL DEFAULT 1,
	z_index               INTEGER NOT NULL DEFAULT 0,
	label                 TEXT NOT NULL DEFAULT '',
	audio_enabled         BOOLEAN,
	created_at            TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at            TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	CHECK (source_out_frame > source_in_frame),
	CHECK (speed > 0),
	CHECK (opacity BETWEEN 0 AND 1)
);

CREATE INDEX IF NOT EXISTS idx_clips_composition ON clips(composition_id, created_at);

CREATE TABLE IF NOT EXISTS tracks (
	id              UUID PRIMARY KEY,
	composition_id  UUID NOT NULL REFERENCES compositions(id) ON DELETE CASCADE,
	clip_id         UUID REFERENCES clips(id) ON DELETE CASCADE,
	channel         TEXT NOT NULL CHECK (channel IN ('transform', 'trim')),
	keyframes       JSONB NOT NULL DEFAULT '[]',
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_tracks_composition ON tracks(composition_id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_tracks_clip_channel ON tracks(clip_id, channel) WHERE clip_id IS NOT NULL;

CREATE TABLE IF NOT EXISTS exports (
	id              UUID PRIMARY KEY,
	job_id          UUID NOT NULL,
	composition_id  UUID NOT NULL REFERENCES compositions(id) ON DELETE CASCADE,
	status          TEXT NOT NULL CHECK (status IN ('queued', 'processing', 'done', 'failed')),
	progress        DOUBLE PRECISION NOT NULL DEFAULT 0,
	error_msg       TEXT NOT NULL DEFAULT '',
	url             TEXT NOT NULL DEFAULT '',
	format          JSONB NOT NULL DEFAULT '{}',
	started_at      TIMESTAMPTZ,
	completed_at    TIMESTAMPTZ,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_exports_composition ON exports(composition_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_exports_status ON exports(status, updated_at);
`

// Migrate applies Schema
func (db *DB) Migrate(ctx context.Context) error {
	if _, err := db.Pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}
