package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// InsertMessage appends a record, assigning its ID and ReceivedAt. The
// message row and its recipients commit together.
func (s *Store) InsertMessage(ctx context.Context, record MessageRecord) (MessageRecord, error) {
	record.ID = uuid.NewString()
	record.ReceivedAt = s.now().UTC()

	headers := record.Headers
	if headers == nil {
		headers = map[string][]string{}
	}
	encoded, err := json.Marshal(headers)
	if err != nil {
		return MessageRecord{}, fmt.Errorf("encode headers: %w", err)
	}
	raw := record.RawBody
	if raw == nil {
		raw = []byte{}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return MessageRecord{}, unavailable("begin tx", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, fmt.Sprintf(`INSERT INTO %s
        (id, sender, subject, headers, raw_body, received_at)
        VALUES (?, ?, ?, ?, ?, ?);`, s.messages),
		record.ID,
		record.Sender,
		record.Subject,
		string(encoded),
		raw,
		toMillis(record.ReceivedAt),
	)
	if err != nil {
		return MessageRecord{}, unavailable("insert message", err)
	}

	for i, recipient := range record.Recipients {
		_, err = tx.ExecContext(ctx, fmt.Sprintf(`INSERT INTO %s (message_id, position, email)
            VALUES (?, ?, ?);`, s.recipients), record.ID, i, recipient)
		if err != nil {
			return MessageRecord{}, unavailable("insert recipient", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return MessageRecord{}, unavailable("commit message", err)
	}
	return record, nil
}

// FindByRecipient returns up to limit messages addressed to address, newest
// first. Matching is case-insensitive; stored addresses keep their case.
func (s *Store) FindByRecipient(ctx context.Context, address string, limit int) ([]MessageRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	address = strings.ToLower(strings.TrimSpace(address))

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT m.id, m.sender, m.subject, m.headers, m.raw_body, m.received_at
        FROM %s m
        WHERE EXISTS (SELECT 1 FROM %s r WHERE r.message_id = m.id AND lower(r.email) = ?)
        ORDER BY m.received_at DESC, m.rowid DESC
        LIMIT ?;`, s.messages, s.recipients), address, limit)
	if err != nil {
		return nil, unavailable("find by recipient", err)
	}
	defer rows.Close()

	messages := []MessageRecord{}
	var ids []string
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, unavailable("scan message", err)
		}
		messages = append(messages, record)
		ids = append(ids, record.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("find by recipient", err)
	}
	if len(ids) == 0 {
		return messages, nil
	}

	recipients, err := s.listRecipients(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range messages {
		messages[i].Recipients = recipients[messages[i].ID]
	}
	return messages, nil
}

func (s *Store) FindByID(ctx context.Context, id string) (MessageRecord, error) {
	if _, err := uuid.Parse(id); err != nil {
		return MessageRecord{}, ErrNotFound
	}
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT id, sender, subject, headers, raw_body, received_at
        FROM %s WHERE id = ?;`, s.messages), id)
	record, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return MessageRecord{}, ErrNotFound
		}
		return MessageRecord{}, unavailable("find message", err)
	}

	recipients, err := s.listRecipients(ctx, []string{id})
	if err != nil {
		return MessageRecord{}, err
	}
	record.Recipients = recipients[id]
	return record, nil
}

func (s *Store) CountInRange(ctx context.Context, r Range) (int64, error) {
	where, args := rangeClause("received_at", r)
	var count int64
	query := fmt.Sprintf(`SELECT COUNT(1) FROM %s WHERE 1=1%s;`, s.messages, where)
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, unavailable("count messages", err)
	}
	return count, nil
}

// TopSendersInRange groups by the exact sender string and keeps groups with
// more than minCount messages.
func (s *Store) TopSendersInRange(ctx context.Context, r Range, minCount int64) ([]Count, error) {
	where, args := rangeClause("received_at", r)
	args = append(args, minCount)
	query := fmt.Sprintf(`SELECT sender, COUNT(1) AS c FROM %s
        WHERE sender != ''%s
        GROUP BY sender
        HAVING c > ?
        ORDER BY c DESC, sender ASC;`, s.messages, where)
	return s.queryCounts(ctx, "top senders", query, args...)
}

// TopDomains counts messages per sender domain, the part after the last "@"
// of the lower-cased sender. Senders without "@" are skipped.
func (s *Store) TopDomains(ctx context.Context, limit int) ([]Count, error) {
	query := fmt.Sprintf(`SELECT lower(sender), COUNT(1) FROM %s
        WHERE sender != ''
        GROUP BY lower(sender);`, s.messages)
	senders, err := s.queryCounts(ctx, "top domains", query)
	if err != nil {
		return nil, err
	}

	byDomain := map[string]int64{}
	for _, sender := range senders {
		at := strings.LastIndex(sender.Key, "@")
		if at < 0 || at == len(sender.Key)-1 {
			continue
		}
		byDomain[sender.Key[at+1:]] += sender.Count
	}
	domains := make([]Count, 0, len(byDomain))
	for domain, count := range byDomain {
		domains = append(domains, Count{Key: domain, Count: count})
	}
	sortCounts(domains)
	if limit > 0 && len(domains) > limit {
		domains = domains[:limit]
	}
	return domains, nil
}

// TopRecipients flattens every recipient list and groups the addresses.
func (s *Store) TopRecipients(ctx context.Context, limit int) ([]Count, error) {
	if limit <= 0 {
		limit = -1
	}
	query := fmt.Sprintf(`SELECT email, COUNT(1) AS c FROM %s
        GROUP BY email
        ORDER BY c DESC, email ASC
        LIMIT ?;`, s.recipients)
	return s.queryCounts(ctx, "top recipients", query, limit)
}

// ListInRange pages through message summaries, newest first, and reports the
// total number of matches.
func (s *Store) ListInRange(ctx context.Context, r Range, offset, limit int) ([]MessageSummary, int64, error) {
	total, err := s.CountInRange(ctx, r)
	if err != nil {
		return nil, 0, err
	}
	if offset < 0 {
		offset = 0
	}

	where, args := rangeClause("m.received_at", r)
	args = append(args, limit, offset)
	query := fmt.Sprintf(`SELECT m.id, m.sender, m.subject, m.received_at,
        COALESCE((SELECT r.email FROM %s r WHERE r.message_id = m.id ORDER BY r.position LIMIT 1), '')
        FROM %s m
        WHERE 1=1%s
        ORDER BY m.received_at DESC, m.rowid DESC
        LIMIT ? OFFSET ?;`, s.recipients, s.messages, where)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, unavailable("list messages", err)
	}
	defer rows.Close()

	summaries := []MessageSummary{}
	for rows.Next() {
		var summary MessageSummary
		var receivedAt int64
		if err := rows.Scan(&summary.ID, &summary.Sender, &summary.Subject, &receivedAt, &summary.FirstRecipient); err != nil {
			return nil, 0, unavailable("scan summary", err)
		}
		summary.ReceivedAt = fromMillis(receivedAt)
		summaries = append(summaries, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, unavailable("list messages", err)
	}
	return summaries, total, nil
}

func (s *Store) queryCounts(ctx context.Context, op, query string, args ...any) ([]Count, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, unavailable(op, err)
	}
	defer rows.Close()

	counts := []Count{}
	for rows.Next() {
		var c Count
		if err := rows.Scan(&c.Key, &c.Count); err != nil {
			return nil, unavailable(op, err)
		}
		counts = append(counts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(op, err)
	}
	return counts, nil
}

func (s *Store) listRecipients(ctx context.Context, messageIDs []string) (map[string][]string, error) {
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(messageIDs)), ",")
	query := fmt.Sprintf(`SELECT message_id, email FROM %s WHERE message_id IN (%s) ORDER BY message_id, position;`,
		s.recipients, placeholders)

	args := make([]any, len(messageIDs))
	for i, id := range messageIDs {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, unavailable("list recipients", err)
	}
	defer rows.Close()

	result := make(map[string][]string, len(messageIDs))
	for rows.Next() {
		var messageID, email string
		if err := rows.Scan(&messageID, &email); err != nil {
			return nil, unavailable("list recipients", err)
		}
		result[messageID] = append(result[messageID], email)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list recipients", err)
	}
	return result, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (MessageRecord, error) {
	var record MessageRecord
	var headers string
	var receivedAt int64
	if err := row.Scan(&record.ID, &record.Sender, &record.Subject, &headers, &record.RawBody, &receivedAt); err != nil {
		return MessageRecord{}, err
	}
	record.ReceivedAt = fromMillis(receivedAt)
	if err := json.Unmarshal([]byte(headers), &record.Headers); err != nil {
		return MessageRecord{}, fmt.Errorf("decode headers: %w", err)
	}
	return record, nil
}

// rangeClause builds the AND-prefixed bounds on column, which must be a
// trusted identifier.
func rangeClause(column string, r Range) (string, []any) {
	var b strings.Builder
	var args []any
	if r.Start != nil {
		b.WriteString(" AND " + column + " >= ?")
		args = append(args, toMillis(*r.Start))
	}
	if r.End != nil {
		b.WriteString(" AND " + column + " < ?")
		args = append(args, toMillis(*r.End))
	}
	return b.String(), args
}

func sortCounts(counts []Count) {
	sort.Slice(counts, func(i, j int) bool {
		if counts[i].Count != counts[j].Count {
			return counts[i].Count > counts[j].Count
		}
		return counts[i].Key < counts[j].Key
	})
}
