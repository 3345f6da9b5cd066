package sqlite

import "strings"

// partitionSchema is applied once per partition. {{T}} is replaced by the
// partition table name. The FTS5 table is external-content and kept in sync
// by triggers.
const partitionSchema = `
CREATE TABLE IF NOT EXISTS "{{T}}" (
    document_id      TEXT PRIMARY KEY,
    message_id       TEXT NOT NULL,
    path             TEXT NOT NULL,
    headers          TEXT NOT NULL DEFAULT '[]',
    from_addr        TEXT NOT NULL DEFAULT '[]',
    to_addr          TEXT NOT NULL DEFAULT '[]',
    cc_addr          TEXT NOT NULL DEFAULT '[]',
    bcc_addr         TEXT NOT NULL DEFAULT '[]',
    address_tokens   TEXT NOT NULL DEFAULT '',
    attachments      TEXT NOT NULL DEFAULT '[]',
    attachment_names TEXT NOT NULL DEFAULT '',
    has_attachments  INTEGER NOT NULL DEFAULT 0,
    subject          TEXT NOT NULL DEFAULT '',
    body             TEXT,
    timestamp        INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS "{{T}}_message_id" ON "{{T}}"(message_id);
CREATE INDEX IF NOT EXISTS "{{T}}_timestamp" ON "{{T}}"(timestamp);

CREATE VIRTUAL TABLE IF NOT EXISTS "{{T}}_fts" USING fts5(
    subject, body, address_tokens, attachment_names,
    content='{{T}}', content_rowid='rowid',
    tokenize='unicode61 remove_diacritics 2'
);

CREATE TRIGGER IF NOT EXISTS "{{T}}_ai" AFTER INSERT ON "{{T}}" BEGIN
    INSERT INTO "{{T}}_fts"(rowid, subject, body, address_tokens, attachment_names)
    VALUES (new.rowid, new.subject, new.body, new.address_tokens, new.attachment_names);
END;
CREATE TRIGGER IF NOT EXISTS "{{T}}_ad" AFTER DELETE ON "{{T}}" BEGIN
    INSERT INTO "{{T}}_fts"("{{T}}_fts", rowid, subject, body, address_tokens, attachment_names)
    VALUES ('delete', old.rowid, old.subject, old.body, old.address_tokens, old.attachment_names);
END;
CREATE TRIGGER IF NOT EXISTS "{{T}}_au" AFTER UPDATE ON "{{T}}" BEGIN
    INSERT INTO "{{T}}_fts"("{{T}}_fts", rowid, subject, body, address_tokens, attachment_names)
    VALUES ('delete', old.rowid, old.subject, old.body, old.address_tokens, old.attachment_names);
    INSERT INTO "{{T}}_fts"(rowid, subject, body, address_tokens, attachment_names)
    VALUES (new.rowid, new.subject, new.body, new.address_tokens, new.attachment_names);
END;
`

const upsertSQL = `
INSERT INTO "{{T}}" (
    document_id, message_id, path, headers, from_addr, to_addr, cc_addr, bcc_addr,
    address_tokens, attachments, attachment_names, has_attachments, subject, body, timestamp
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(document_id) DO UPDATE SET
    message_id = excluded.message_id,
    path = excluded.path,
    headers = excluded.headers,
    from_addr = excluded.from_addr,
    to_addr = excluded.to_addr,
    cc_addr = excluded.cc_addr,
    bcc_addr = excluded.bcc_addr,
    address_tokens = excluded.address_tokens,
    attachments = excluded.attachments,
    attachment_names = excluded.attachment_names,
    has_attachments = excluded.has_attachments,
    subject = excluded.subject,
    body = excluded.body,
    timestamp = excluded.timestamp`

const searchSQL = `
SELECT t.document_id, t.message_id, t.path, t.subject, t.timestamp, bm25("{{T}}_fts") AS rank
FROM "{{T}}_fts" f
JOIN "{{T}}" t ON t.rowid = f.rowid
WHERE "{{T}}_fts" MATCH ?
ORDER BY rank
LIMIT ?`

func render(stmt, table string) string {
	return strings.ReplaceAll(stmt, "{{T}}", table)
}
