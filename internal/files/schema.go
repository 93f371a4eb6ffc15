package files

// Schema contains SQL schema definitions for the file store
const Schema = `
-- Filesystem nodes: collections (folders) and files
CREATE TABLE IF NOT EXISTS fs_items (
    id TEXT PRIMARY KEY,
    parent_id TEXT,
    type INTEGER NOT NULL,
    size INTEGER NOT NULL DEFAULT 0,
    mtime INTEGER NOT NULL DEFAULT 0,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (parent_id) REFERENCES fs_items(id) ON DELETE CASCADE
);

-- Arbitrary node properties (name, mimetype, ...)
CREATE TABLE IF NOT EXISTS fs_properties (
    item_id TEXT NOT NULL,
    key TEXT NOT NULL,
    value TEXT NOT NULL,
    PRIMARY KEY (item_id, key),
    FOREIGN KEY (item_id) REFERENCES fs_items(id) ON DELETE CASCADE
);

-- Parent/child relation edges
CREATE TABLE IF NOT EXISTS fs_relations (
    parent_id TEXT NOT NULL,
    child_id TEXT NOT NULL,
    PRIMARY KEY (parent_id, child_id),
    FOREIGN KEY (parent_id) REFERENCES fs_items(id) ON DELETE CASCADE,
    FOREIGN KEY (child_id) REFERENCES fs_items(id) ON DELETE CASCADE
);

-- File content
CREATE TABLE IF NOT EXISTS fs_blobs (
    item_id TEXT PRIMARY KEY,
    content BLOB NOT NULL,
    FOREIGN KEY (item_id) REFERENCES fs_items(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_fs_items_parent_id ON fs_items(parent_id);
CREATE INDEX IF NOT EXISTS idx_fs_properties_key ON fs_properties(key, value);
`
