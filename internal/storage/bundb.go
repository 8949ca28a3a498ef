package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	"gramfs/internal/common"
	"gramfs/internal/util"
)

// BunDB wraps a Bun database instance for type-safe queries.
type BunDB struct {
	*bun.DB
}

// NewBunDB wraps an existing *sql.DB with Bun's type-safe query builder.
func NewBunDB(sqlDB *sql.DB) *BunDB {
	bunDB := bun.NewDB(sqlDB, sqlitedialect.New())
	return &BunDB{DB: bunDB}
}

// --- fs_info Operations ---

// GetFsInfo retrieves an fs_info value by key.
// Returns "" (no error) if the key doesn't exist.
func (db *BunDB) GetFsInfo(ctx context.Context, key string) (string, error) {
	var info fsInfoRow
	err := db.NewSelect().
		Model(&info).
		Where("key = ?", key).
		Scan(ctx)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return info.Value, nil
}

// SetFsInfo sets an fs_info value (upserts).
func (db *BunDB) SetFsInfo(ctx context.Context, key, value string) error {
	_, err := db.NewInsert().
		Model(&fsInfoRow{Key: key, Value: value}).
		On("CONFLICT (key) DO UPDATE").
		Set("value = EXCLUDED.value").
		Exec(ctx)
	return err
}

// --- Node Operations ---

// CreateNode inserts a new node and returns its id (also assigned to node.ID).
// Uses retry logic to handle transient "database is locked" errors that can occur
// when the daemon and CLI both have the catalog open (WAL checkpoint contention).
func (db *BunDB) CreateNode(ctx context.Context, node *Node) (int64, error) {
	return util.RetryWithResult(ctx,
		func() (int64, error) {
			return db.createNodeWith(db.DB, ctx, node)
		},
		util.DatabaseRetryOptions(ctx)...)
}

// CreateNodeWith is like CreateNode but uses the provided bun.IDB (for transaction support).
// No retry: retrying inside a failed transaction would be useless.
func (db *BunDB) CreateNodeWith(idb bun.IDB, ctx context.Context, node *Node) (int64, error) {
	return db.createNodeWith(idb, ctx, node)
}

func (db *BunDB) createNodeWith(idb bun.IDB, ctx context.Context, node *Node) (int64, error) {
	row := nodeRowFromNode(node)
	// Use RETURNING clause to get the node id (libsql doesn't support LastInsertId)
	_, err := idb.NewInsert().
		Model(row).
		Returning("id").
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	node.ID = row.ID
	return row.ID, nil
}

// NodeByID retrieves a node by its id.
// Returns common.ErrNotFound if no such node exists.
func (db *BunDB) NodeByID(ctx context.Context, id int64) (*Node, error) {
	return db.nodeByIDWith(db.DB, ctx, id)
}

// NodeByIDWith is like NodeByID but uses the provided bun.IDB (for transaction support).
func (db *BunDB) NodeByIDWith(idb bun.IDB, ctx context.Context, id int64) (*Node, error) {
	return db.nodeByIDWith(idb, ctx, id)
}

func (db *BunDB) nodeByIDWith(idb bun.IDB, ctx context.Context, id int64) (*Node, error) {
	var row nodeRow
	err := idb.NewSelect().
		Model(&row).
		Where("id = ?", id).
		Scan(ctx)
	if err == sql.ErrNoRows {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.ToNode(), nil
}

// Lookup retrieves the child of parentID named name.
// Returns common.ErrNotFound if no such child exists.
func (db *BunDB) Lookup(ctx context.Context, parentID int64, name string) (*Node, error) {
	return db.lookupWith(db.DB, ctx, parentID, name)
}

// LookupWith is like Lookup but uses the provided bun.IDB (for transaction support).
func (db *BunDB) LookupWith(idb bun.IDB, ctx context.Context, parentID int64, name string) (*Node, error) {
	return db.lookupWith(idb, ctx, parentID, name)
}

func (db *BunDB) lookupWith(idb bun.IDB, ctx context.Context, parentID int64, name string) (*Node, error) {
	var row nodeRow
	err := idb.NewSelect().
		Model(&row).
		Where("parent_id = ?", parentID).
		Where("name = ?", name).
		Scan(ctx)
	if err == sql.ErrNoRows {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.ToNode(), nil
}

// UpdateNode applies the non-nil fields of upd to the node with the given id.
// A Mode update changes only the permission columns; the type columns
// (is_directory, symlink_target) are never touched after creation.
func (db *BunDB) UpdateNode(ctx context.Context, id int64, upd *NodeUpdate) error {
	return db.updateNodeWith(db.DB, ctx, id, upd)
}

// UpdateNodeWith is like UpdateNode but uses the provided bun.IDB (for transaction support).
func (db *BunDB) UpdateNodeWith(idb bun.IDB, ctx context.Context, id int64, upd *NodeUpdate) error {
	return db.updateNodeWith(idb, ctx, id, upd)
}

func (db *BunDB) updateNodeWith(idb bun.IDB, ctx context.Context, id int64, upd *NodeUpdate) error {
	q := idb.NewUpdate().
		Model((*nodeRow)(nil)).
		Where("id = ?", id)
	touched := false
	if upd.Mode != nil {
		m := *upd.Mode
		q = q.Set("user_read = ?", m&0400 != 0).
			Set("user_write = ?", m&0200 != 0).
			Set("user_exec = ?", m&0100 != 0).
			Set("group_read = ?", m&0040 != 0).
			Set("group_write = ?", m&0020 != 0).
			Set("group_exec = ?", m&0010 != 0).
			Set("other_read = ?", m&0004 != 0).
			Set("other_write = ?", m&0002 != 0).
			Set("other_exec = ?", m&0001 != 0)
		touched = true
	}
	if upd.Uid != nil {
		q = q.Set("uid = ?", int64(*upd.Uid))
		touched = true
	}
	if upd.Gid != nil {
		q = q.Set("gid = ?", int64(*upd.Gid))
		touched = true
	}
	if upd.Size != nil {
		q = q.Set("size = ?", *upd.Size)
		touched = true
	}
	if upd.UpdatedAt != nil {
		q = q.Set("updated_at = ?", upd.UpdatedAt.Unix())
		touched = true
	}
	if upd.AccessedAt != nil {
		q = q.Set("accessed_at = ?", upd.AccessedAt.Unix())
		touched = true
	}
	if !touched {
		return nil
	}
	res, err := q.Exec(ctx)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return common.ErrNotFound
	}
	return nil
}

// DeleteNode deletes a node row. The caller is responsible for deleting the
// node's chunks (DeleteChunks) and for checking emptiness of directories.
func (db *BunDB) DeleteNode(ctx context.Context, id int64) error {
	return db.deleteNodeWith(db.DB, ctx, id)
}

// DeleteNodeWith is like DeleteNode but uses the provided bun.IDB (for transaction support).
func (db *BunDB) DeleteNodeWith(idb bun.IDB, ctx context.Context, id int64) error {
	return db.deleteNodeWith(idb, ctx, id)
}

func (db *BunDB) deleteNodeWith(idb bun.IDB, ctx context.Context, id int64) error {
	res, err := idb.NewDelete().
		Model((*nodeRow)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return common.ErrNotFound
	}
	return nil
}

// Children lists the direct children of a directory, ordered by name.
func (db *BunDB) Children(ctx context.Context, parentID int64) ([]*Node, error) {
	return db.childrenWith(db.DB, ctx, parentID)
}

// ChildrenWith is like Children but uses the provided bun.IDB (for transaction support).
func (db *BunDB) ChildrenWith(idb bun.IDB, ctx context.Context, parentID int64) ([]*Node, error) {
	return db.childrenWith(idb, ctx, parentID)
}

func (db *BunDB) childrenWith(idb bun.IDB, ctx context.Context, parentID int64) ([]*Node, error) {
	var rows []nodeRow
	err := idb.NewSelect().
		Model(&rows).
		Where("parent_id = ?", parentID).
		Order("name ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	nodes := make([]*Node, 0, len(rows))
	for i := range rows {
		nodes = append(nodes, rows[i].ToNode())
	}
	return nodes, nil
}

// HasChildren checks if a directory has any children.
// Uses EXISTS + LIMIT 1 to short-circuit instead of materializing all entries.
func (db *BunDB) HasChildren(ctx context.Context, parentID int64) (bool, error) {
	return db.hasChildrenWith(db.DB, ctx, parentID)
}

// HasChildrenWith is like HasChildren but uses the provided bun.IDB (for transaction support).
func (db *BunDB) HasChildrenWith(idb bun.IDB, ctx context.Context, parentID int64) (bool, error) {
	return db.hasChildrenWith(idb, ctx, parentID)
}

func (db *BunDB) hasChildrenWith(idb bun.IDB, ctx context.Context, parentID int64) (bool, error) {
	var exists int
	err := idb.NewRaw(`
		SELECT EXISTS(
			SELECT 1 FROM nodes WHERE parent_id = ? LIMIT 1
		)
	`, parentID).Scan(ctx, &exists)
	if err != nil {
		return false, err
	}
	return exists == 1, nil
}

// Rename moves a node to a new parent and/or name in a single UPDATE,
// so concurrent readers never observe a half-applied move.
func (db *BunDB) Rename(ctx context.Context, id, newParentID int64, newName string) error {
	return db.renameWith(db.DB, ctx, id, newParentID, newName)
}

// RenameWith is like Rename but uses the provided bun.IDB (for transaction support).
func (db *BunDB) RenameWith(idb bun.IDB, ctx context.Context, id, newParentID int64, newName string) error {
	return db.renameWith(idb, ctx, id, newParentID, newName)
}

func (db *BunDB) renameWith(idb bun.IDB, ctx context.Context, id, newParentID int64, newName string) error {
	now := time.Now().Unix()
	res, err := idb.NewUpdate().
		Model((*nodeRow)(nil)).
		Set("parent_id = ?", newParentID).
		Set("name = ?", newName).
		Set("updated_at = ?", now).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return common.ErrNotFound
	}
	return nil
}

// --- Chunk Operations ---

// Chunks lists a file's chunk records ordered by sequence.
func (db *BunDB) Chunks(ctx context.Context, nodeID int64) ([]*Chunk, error) {
	return db.chunksWith(db.DB, ctx, nodeID)
}

// ChunksWith is like Chunks but uses the provided bun.IDB (for transaction support).
func (db *BunDB) ChunksWith(idb bun.IDB, ctx context.Context, nodeID int64) ([]*Chunk, error) {
	return db.chunksWith(idb, ctx, nodeID)
}

func (db *BunDB) chunksWith(idb bun.IDB, ctx context.Context, nodeID int64) ([]*Chunk, error) {
	var rows []chunkRow
	err := idb.NewSelect().
		Model(&rows).
		Where("node_id = ?", nodeID).
		Order("seq ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	chunks := make([]*Chunk, 0, len(rows))
	for i := range rows {
		chunks = append(chunks, rows[i].ToChunk())
	}
	return chunks, nil
}

// UpsertChunk inserts or repoints one chunk record. An empty blobID stores
// NULL (allocated, unflushed slot).
func (db *BunDB) UpsertChunk(ctx context.Context, nodeID, seq int64, blobID string) error {
	return db.upsertChunkWith(db.DB, ctx, nodeID, seq, blobID)
}

// UpsertChunkWith is like UpsertChunk but uses the provided bun.IDB (for transaction support).
func (db *BunDB) UpsertChunkWith(idb bun.IDB, ctx context.Context, nodeID, seq int64, blobID string) error {
	return db.upsertChunkWith(idb, ctx, nodeID, seq, blobID)
}

func (db *BunDB) upsertChunkWith(idb bun.IDB, ctx context.Context, nodeID, seq int64, blobID string) error {
	_, err := idb.NewInsert().
		Model(&chunkRow{NodeID: nodeID, Seq: seq, BlobID: blobID}).
		On("CONFLICT (node_id, seq) DO UPDATE").
		Set("blob_id = EXCLUDED.blob_id").
		Exec(ctx)
	return err
}

// DeleteChunksFrom deletes a file's chunk records with seq >= fromSeq
// (truncation dropping trailing chunks).
func (db *BunDB) DeleteChunksFrom(ctx context.Context, nodeID, fromSeq int64) error {
	return db.deleteChunksFromWith(db.DB, ctx, nodeID, fromSeq)
}

// DeleteChunksFromWith is like DeleteChunksFrom but uses the provided bun.IDB.
func (db *BunDB) DeleteChunksFromWith(idb bun.IDB, ctx context.Context, nodeID, fromSeq int64) error {
	return db.deleteChunksFromWith(idb, ctx, nodeID, fromSeq)
}

func (db *BunDB) deleteChunksFromWith(idb bun.IDB, ctx context.Context, nodeID, fromSeq int64) error {
	_, err := idb.NewDelete().
		Model((*chunkRow)(nil)).
		Where("node_id = ?", nodeID).
		Where("seq >= ?", fromSeq).
		Exec(ctx)
	return err
}

// DeleteChunks deletes all chunk records of a file (unlink).
func (db *BunDB) DeleteChunks(ctx context.Context, nodeID int64) error {
	return db.deleteChunksWith(db.DB, ctx, nodeID)
}

// DeleteChunksWith is like DeleteChunks but uses the provided bun.IDB (for transaction support).
func (db *BunDB) DeleteChunksWith(idb bun.IDB, ctx context.Context, nodeID int64) error {
	return db.deleteChunksWith(idb, ctx, nodeID)
}

func (db *BunDB) deleteChunksWith(idb bun.IDB, ctx context.Context, nodeID int64) error {
	_, err := idb.NewDelete().
		Model((*chunkRow)(nil)).
		Where("node_id = ?", nodeID).
		Exec(ctx)
	return err
}

// --- Statistics ---

// NodeCount returns the total number of nodes in the catalog.
func (db *BunDB) NodeCount(ctx context.Context) (int64, error) {
	n, err := db.NewSelect().Model((*nodeRow)(nil)).Count(ctx)
	return int64(n), err
}

// ChunkCount returns the total number of chunk records in the catalog.
func (db *BunDB) ChunkCount(ctx context.Context) (int64, error) {
	n, err := db.NewSelect().Model((*chunkRow)(nil)).Count(ctx)
	return int64(n), err
}

// TotalFileBytes returns the sum of regular-file sizes.
func (db *BunDB) TotalFileBytes(ctx context.Context) (int64, error) {
	var total sql.NullInt64
	err := db.NewRaw(`
		SELECT SUM(size) FROM nodes
		WHERE is_directory = 0 AND symlink_target IS NULL
	`).Scan(ctx, &total)
	if err != nil {
		return 0, err
	}
	if total.Valid {
		return total.Int64, nil
	}
	return 0, nil
}
