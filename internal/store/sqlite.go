package store

import (
	"database/sql"
	"fmt"
	"strconv"
	"sync"

	"github.com/msgcore/mrcore/internal/dbx"
	"github.com/msgcore/mrcore/internal/event"
	"github.com/msgcore/mrcore/internal/model"
)

// SQLiteStore implements Store on top of internal/dbx. All access is
// serialized by a single, non-reentrant mutex (§5: "store.lock (not
// reentrant)"); Begin blocks until any in-flight Tx commits or rolls back.
type SQLiteStore struct {
	db   *dbx.DB
	disp *event.Dispatcher

	mu sync.Mutex
}

// NewSQLiteStore wraps db. disp receives events enqueued by committed
// transactions.
func NewSQLiteStore(db *dbx.DB, disp *event.Dispatcher) *SQLiteStore {
	return &SQLiteStore{db: db, disp: disp}
}

// Begin acquires the store lock and opens a SQL transaction.
func (s *SQLiteStore) Begin() (Tx, error) {
	s.mu.Lock()
	sqlTx, err := s.db.Begin()
	if err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("store: begin: %w", err)
	}
	return &sqliteTx{store: s, tx: sqlTx}, nil
}

type sqliteTx struct {
	store  *SQLiteStore
	tx     *sql.Tx
	events []event.Event
	done   bool
}

func (t *sqliteTx) Commit() error {
	if t.done {
		return fmt.Errorf("store: tx already finished")
	}
	t.done = true

	if err := t.tx.Commit(); err != nil {
		t.store.mu.Unlock()
		return fmt.Errorf("store: commit: %w", err)
	}
	for _, e := range t.events {
		t.store.disp.Enqueue(e)
	}
	// §5: callbacks fire with store.lock released so they may re-enter the
	// store (e.g. Begin a new Tx). Unlock before Flush, not after.
	t.store.mu.Unlock()
	t.store.disp.Flush()
	return nil
}

func (t *sqliteTx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	defer t.store.mu.Unlock()

	if err := t.tx.Rollback(); err != nil {
		return fmt.Errorf("store: rollback: %w", err)
	}
	return nil
}

func (t *sqliteTx) EnqueueEvent(e event.Event) {
	if t.done {
		return
	}
	t.events = append(t.events, e)
}

// --- config ---

func (t *sqliteTx) GetConfig(key string) (string, bool, error) {
	var value string
	err := t.tx.QueryRow("SELECT value FROM config WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("store: get config: %w", err)
	}
	return value, true, nil
}

func (t *sqliteTx) SetConfig(key, value string) error {
	_, err := t.tx.Exec(`
		INSERT INTO config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("store: set config: %w", err)
	}
	return nil
}

func (t *sqliteTx) GetConfigInt(key string) (int, bool, error) {
	value, ok, err := t.GetConfig(key)
	if err != nil || !ok {
		return 0, ok, err
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, false, fmt.Errorf("store: get config int: %w", err)
	}
	return n, true, nil
}

func (t *sqliteTx) SetConfigInt(key string, value int) error {
	return t.SetConfig(key, strconv.Itoa(value))
}

// --- contacts ---

func (t *sqliteTx) UpsertContact(addr, name string, origin model.Origin) (uint32, error) {
	existing, found, err := t.FindContactByAddr(addr)
	if err != nil {
		return 0, err
	}
	if found {
		newOrigin := existing.Origin
		if origin > newOrigin {
			newOrigin = origin
		}
		newName := existing.Name
		if origin >= existing.Origin && name != "" {
			newName = name
		}
		if _, err := t.tx.Exec("UPDATE contacts SET origin = ?, name = ? WHERE id = ?",
			uint32(newOrigin), newName, existing.ID); err != nil {
			return 0, fmt.Errorf("store: upsert contact: %w", err)
		}
		return existing.ID, nil
	}

	res, err := t.tx.Exec("INSERT INTO contacts (addr, name, origin) VALUES (?, ?, ?)",
		addr, name, uint32(origin))
	if err != nil {
		return 0, fmt.Errorf("store: upsert contact: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("store: upsert contact: %w", err)
	}
	return uint32(id), nil
}

func (t *sqliteTx) IsKnownContact(addr string) (bool, error) {
	_, found, err := t.FindContactByAddr(addr)
	return found, err
}

func (t *sqliteTx) ScaleupContactOrigin(contactID uint32, origin model.Origin) error {
	_, err := t.tx.Exec(
		"UPDATE contacts SET origin = ? WHERE id = ? AND origin < ?",
		uint32(origin), contactID, uint32(origin))
	if err != nil {
		return fmt.Errorf("store: scaleup contact origin: %w", err)
	}
	return nil
}

func (t *sqliteTx) GetContact(contactID uint32) (*model.Contact, error) {
	c := &model.Contact{}
	var origin uint32
	var blocked int
	err := t.tx.QueryRow(
		"SELECT id, addr, name, origin, blocked, param FROM contacts WHERE id = ?", contactID,
	).Scan(&c.ID, &c.Addr, &c.Name, &origin, &blocked, &c.Param)
	if err != nil {
		return nil, fmt.Errorf("store: get contact: %w", err)
	}
	c.Origin = model.Origin(origin)
	c.Blocked = blocked != 0
	return c, nil
}

func (t *sqliteTx) FindContactByAddr(addr string) (*model.Contact, bool, error) {
	c := &model.Contact{}
	var origin uint32
	var blocked int
	err := t.tx.QueryRow(
		"SELECT id, addr, name, origin, blocked, param FROM contacts WHERE addr = ?", addr,
	).Scan(&c.ID, &c.Addr, &c.Name, &origin, &blocked, &c.Param)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("store: find contact: %w", err)
	}
	c.Origin = model.Origin(origin)
	c.Blocked = blocked != 0
	return c, true, nil
}

// --- chats ---

func (t *sqliteTx) LookupChatByGrpid(grpid string) (*model.Chat, bool, error) {
	c := &model.Chat{}
	var kind int
	err := t.tx.QueryRow(
		"SELECT id, kind, name, grpid FROM chats WHERE grpid = ?", grpid,
	).Scan(&c.ID, &kind, &c.Name, &c.Grpid)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("store: lookup chat by grpid: %w", err)
	}
	c.Kind = model.ChatKind(kind)
	return c, true, nil
}

func (t *sqliteTx) CreateGroupChat(name, grpid string) (*model.Chat, error) {
	res, err := t.tx.Exec("INSERT INTO chats (kind, name, grpid) VALUES (?, ?, ?)",
		int(model.ChatGroup), name, grpid)
	if err != nil {
		return nil, fmt.Errorf("store: create group chat: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("store: create group chat: %w", err)
	}
	return &model.Chat{ID: uint32(id), Kind: model.ChatGroup, Name: name, Grpid: grpid}, nil
}

func (t *sqliteTx) FindSingleChat(contactID uint32) (*model.Chat, bool, error) {
	c := &model.Chat{}
	var kind int
	err := t.tx.QueryRow(`
		SELECT c.id, c.kind, c.name, c.grpid FROM chats c
		JOIN chat_members m ON m.chat_id = c.id
		WHERE c.kind = ? AND m.contact_id = ?
		LIMIT 1`, int(model.ChatSingle), contactID,
	).Scan(&c.ID, &kind, &c.Name, &c.Grpid)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("store: find single chat: %w", err)
	}
	c.Kind = model.ChatKind(kind)
	return c, true, nil
}

func (t *sqliteTx) FindOrCreateSingleChat(contactID uint32) (*model.Chat, error) {
	if c, found, err := t.FindSingleChat(contactID); err != nil {
		return nil, err
	} else if found {
		return c, nil
	}

	contact, err := t.GetContact(contactID)
	if err != nil {
		return nil, err
	}

	res, err := t.tx.Exec("INSERT INTO chats (kind, name) VALUES (?, ?)",
		int(model.ChatSingle), contact.Addr)
	if err != nil {
		return nil, fmt.Errorf("store: find or create single chat: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("store: find or create single chat: %w", err)
	}
	if err := t.AddMember(uint32(id), contactID); err != nil {
		return nil, err
	}
	if err := t.AddMember(uint32(id), model.ContactIDSelf); err != nil {
		return nil, err
	}
	return &model.Chat{ID: uint32(id), Kind: model.ChatSingle, Name: contact.Addr}, nil
}

func (t *sqliteTx) RenameChat(chatID uint32, name string) error {
	if len(name) > 200 {
		name = name[:200]
	}
	_, err := t.tx.Exec("UPDATE chats SET name = ? WHERE id = ?", name, chatID)
	if err != nil {
		return fmt.Errorf("store: rename chat: %w", err)
	}
	return nil
}

// --- membership ---

func (t *sqliteTx) AddMember(chatID, contactID uint32) error {
	_, err := t.tx.Exec(
		"INSERT OR IGNORE INTO chat_members (chat_id, contact_id) VALUES (?, ?)",
		chatID, contactID)
	if err != nil {
		return fmt.Errorf("store: add member: %w", err)
	}
	return nil
}

func (t *sqliteTx) RemoveMember(chatID, contactID uint32) error {
	_, err := t.tx.Exec(
		"DELETE FROM chat_members WHERE chat_id = ? AND contact_id = ?", chatID, contactID)
	if err != nil {
		return fmt.Errorf("store: remove member: %w", err)
	}
	return nil
}

func (t *sqliteTx) RemoveAllMembers(chatID uint32) error {
	_, err := t.tx.Exec("DELETE FROM chat_members WHERE chat_id = ?", chatID)
	if err != nil {
		return fmt.Errorf("store: remove all members: %w", err)
	}
	return nil
}

func (t *sqliteTx) IsContactInChat(chatID, contactID uint32) (bool, error) {
	var one int
	err := t.tx.QueryRow(
		"SELECT 1 FROM chat_members WHERE chat_id = ? AND contact_id = ?", chatID, contactID,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: is contact in chat: %w", err)
	}
	return true, nil
}

// --- left groups ---

func (t *sqliteTx) IsGroupLeft(grpid string) (bool, error) {
	var one int
	err := t.tx.QueryRow("SELECT 1 FROM left_groups WHERE grpid = ?", grpid).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: is group left: %w", err)
	}
	return true, nil
}

func (t *sqliteTx) MarkGroupLeft(grpid string) error {
	_, err := t.tx.Exec("INSERT OR IGNORE INTO left_groups (grpid) VALUES (?)", grpid)
	if err != nil {
		return fmt.Errorf("store: mark group left: %w", err)
	}
	return nil
}

func (t *sqliteTx) MarkGroupRejoined(grpid string) error {
	_, err := t.tx.Exec("DELETE FROM left_groups WHERE grpid = ?", grpid)
	if err != nil {
		return fmt.Errorf("store: mark group rejoined: %w", err)
	}
	return nil
}

// --- messages ---

func (t *sqliteTx) InsertMessage(m *model.Message) (uint32, error) {
	res, err := t.tx.Exec(`
		INSERT INTO messages (rfc724_mid, server_folder, server_uid, chat_id, from_id,
			to_id, ts, type, state, is_msgr, text, text_raw, param, bytes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.Rfc724Mid, m.ServerFolder, m.ServerUID, m.ChatID, m.FromID,
		m.ToID, m.Timestamp, m.Type, string(m.State), boolToInt(m.IsMsgr),
		m.Text, m.TextRaw, m.Param, m.Bytes,
	)
	if err != nil {
		return 0, fmt.Errorf("store: insert message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("store: insert message: %w", err)
	}
	return uint32(id), nil
}

func (t *sqliteTx) Rfc724MidExists(mid string) (bool, error) {
	var one int
	err := t.tx.QueryRow(
		"SELECT 1 FROM messages WHERE rfc724_mid = ? AND chat_id > ? LIMIT 1",
		mid, model.ChatIDLastSpecial,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: rfc724_mid exists: %w", err)
	}
	return true, nil
}

func (t *sqliteTx) GetMessageByRfc724Mid(mid string) (*model.Message, bool, error) {
	m, err := scanMessageRow(t.tx.QueryRow(`
		SELECT id, rfc724_mid, server_folder, server_uid, chat_id, from_id, to_id,
			ts, type, state, is_msgr, text, text_raw, param, bytes
		FROM messages WHERE rfc724_mid = ? ORDER BY id DESC LIMIT 1`, mid))
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("store: get message by rfc724_mid: %w", err)
	}
	return m, true, nil
}

func (t *sqliteTx) UpdateServerUID(msgID uint32, folder string, uid uint32) error {
	_, err := t.tx.Exec(
		"UPDATE messages SET server_folder = ?, server_uid = ? WHERE id = ?", folder, uid, msgID)
	if err != nil {
		return fmt.Errorf("store: update server uid: %w", err)
	}
	return nil
}

func (t *sqliteTx) UpdateMessageState(msgID uint32, state model.MsgState) error {
	_, err := t.tx.Exec("UPDATE messages SET state = ? WHERE id = ?", string(state), msgID)
	if err != nil {
		return fmt.Errorf("store: update message state: %w", err)
	}
	return nil
}

func (t *sqliteTx) LastFreshTimestampInChat(chatID uint32, excludeContactID uint32) (int64, bool, error) {
	var ts sql.NullInt64
	err := t.tx.QueryRow(
		"SELECT MAX(ts) FROM messages WHERE chat_id = ? AND from_id != ?",
		chatID, excludeContactID,
	).Scan(&ts)
	if err != nil {
		return 0, false, fmt.Errorf("store: last fresh timestamp: %w", err)
	}
	if !ts.Valid {
		return 0, false, nil
	}
	return ts.Int64, true, nil
}

func scanMessageRow(row *sql.Row) (*model.Message, error) {
	m := &model.Message{}
	var state string
	var isMsgr int
	if err := row.Scan(
		&m.ID, &m.Rfc724Mid, &m.ServerFolder, &m.ServerUID, &m.ChatID, &m.FromID, &m.ToID,
		&m.Timestamp, &m.Type, &state, &isMsgr, &m.Text, &m.TextRaw, &m.Param, &m.Bytes,
	); err != nil {
		return nil, err
	}
	m.State = model.MsgState(state)
	m.IsMsgr = isMsgr != 0
	return m, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
