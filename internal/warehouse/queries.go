package warehouse

import (
	"fmt"

	"github.com/jackc/pgx/v5"
)

// DefaultRejectsTable receives rows the warehouse refused, for operator re-drive.
const DefaultRejectsTable = "detection_rejects"

// tables holds sanitized, schema-qualified identifiers.
type tables struct {
	schema     string
	detections string
	rejects    string
	prefix     string // unqualified table name, used for index names
}

func newTables(schema, table, rejects string) tables {
	return tables{
		schema:     pgx.Identifier{schema}.Sanitize(),
		detections: pgx.Identifier{schema, table}.Sanitize(),
		rejects:    pgx.Identifier{schema, rejects}.Sanitize(),
		prefix:     table,
	}
}

func (t tables) ddl() []string {
	idx := func(suffix string) string { return pgx.Identifier{t.prefix + "_" + suffix}.Sanitize() }
	return []string{
		fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s`, t.schema),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	fingerprint     TEXT PRIMARY KEY,
	source_file     TEXT NOT NULL,
	source_type     TEXT NOT NULL CHECK (source_type IN ('image', 'video')),
	frame_index     BIGINT,
	frame_timestamp DOUBLE PRECISION,
	object_class    TEXT NOT NULL,
	confidence      DOUBLE PRECISION NOT NULL CHECK (confidence >= 0 AND confidence <= 1),
	bbox_x1         DOUBLE PRECISION NOT NULL,
	bbox_y1         DOUBLE PRECISION NOT NULL,
	bbox_x2         DOUBLE PRECISION NOT NULL,
	bbox_y2         DOUBLE PRECISION NOT NULL,
	bbox_width      DOUBLE PRECISION NOT NULL,
	bbox_height     DOUBLE PRECISION NOT NULL,
	bbox_area       DOUBLE PRECISION NOT NULL,
	center_x        DOUBLE PRECISION NOT NULL,
	center_y        DOUBLE PRECISION NOT NULL,
	image_width     INTEGER,
	image_height    INTEGER,
	staged_file     TEXT NOT NULL,
	batch_id        UUID NOT NULL,
	trigger         TEXT NOT NULL,
	loaded_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	processing_date DATE NOT NULL DEFAULT CURRENT_DATE
)`, t.detections),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (source_type, source_file)`, idx("source_idx"), t.detections),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (object_class)`, idx("class_idx"), t.detections),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (processing_date)`, idx("date_idx"), t.detections),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id          BIGSERIAL PRIMARY KEY,
	fingerprint TEXT NOT NULL,
	staged_file TEXT NOT NULL,
	reason      TEXT NOT NULL,
	detail      TEXT,
	batch_id    UUID,
	rejected_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`, t.rejects),
	}
}

func (t tables) insertDetection() string {
	return fmt.Sprintf(`INSERT INTO %s (
	fingerprint, source_file, source_type, frame_index, frame_timestamp,
	object_class, confidence, bbox_x1, bbox_y1, bbox_x2, bbox_y2,
	bbox_width, bbox_height, bbox_area, center_x, center_y,
	image_width, image_height, staged_file, batch_id, trigger, loaded_at, processing_date
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)
ON CONFLICT (fingerprint) DO NOTHING
RETURNING fingerprint`, t.detections)
}

func (t tables) insertReject() string {
	return fmt.Sprintf(`INSERT INTO %s (fingerprint, staged_file, reason, detail, batch_id, rejected_at)
VALUES ($1, $2, $3, $4, $5, $6)`, t.rejects)
}

func (t tables) countTotal() string {
	return fmt.Sprintf(`SELECT count(*), max(loaded_at) FROM %s`, t.detections)
}

func (t tables) countByType() string {
	return fmt.Sprintf(`SELECT source_type, count(*) FROM %s GROUP BY source_type ORDER BY source_type`, t.detections)
}

func (t tables) topClasses() string {
	return fmt.Sprintf(`SELECT object_class, count(*) AS n FROM %s GROUP BY object_class ORDER BY n DESC, object_class LIMIT $1`, t.detections)
}

func (t tables) deleteBefore() string {
	return fmt.Sprintf(`DELETE FROM %s WHERE processing_date < $1::date`, t.detections)
}

func (t tables) countRejects() string {
	return fmt.Sprintf(`SELECT count(*) FROM %s`, t.rejects)
}
