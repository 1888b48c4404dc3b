package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/switchboard-hq/switchboard/internal/domain/card"
)

// objectTypeCard marks links toward other cards; those get a reciprocal
// link maintained automatically.
const objectTypeCard = "card"

func (s *Store) CreateCard(ctx context.Context, req card.CreateRequest) (*card.Card, error) {
	col := req.Col
	if col == "" {
		col = card.ColBacklog
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("create card: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx,
		`INSERT INTO kanban_cards (title, description, col, priority, assignee, creator)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING `+cardColumns,
		req.Title, req.Description, string(col), req.Priority, req.Assignee, req.Creator)

	c, err := scanCard(row)
	if err != nil {
		return nil, fmt.Errorf("create card: %w", err)
	}

	for _, l := range req.Links {
		if err := insertLink(ctx, tx, c.ID, l); err != nil {
			return nil, err
		}
		c.Links = append(c.Links, l)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("create card: commit: %w", err)
	}
	return &c, nil
}

// insertLink persists a link and, for links toward another link-bearing
// entity, its reciprocal.
func insertLink(ctx context.Context, tx pgx.Tx, cardID int64, l card.Link) error {
	if _, err := tx.Exec(ctx,
		`INSERT INTO kanban_card_links (card_id, object_type, object_id)
		 VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`,
		cardID, l.ObjectType, l.ObjectID); err != nil {
		return fmt.Errorf("card %d: insert link %s/%d: %w", cardID, l.ObjectType, l.ObjectID, err)
	}
	if l.ObjectType == objectTypeCard {
		if _, err := tx.Exec(ctx,
			`INSERT INTO kanban_card_links (card_id, object_type, object_id)
			 VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`,
			l.ObjectID, objectTypeCard, cardID); err != nil {
			return fmt.Errorf("card %d: insert reciprocal link to %d: %w", cardID, l.ObjectID, err)
		}
	}
	return nil
}

func (s *Store) GetCard(ctx context.Context, id int64) (*card.Card, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+cardColumns+` FROM kanban_cards WHERE id = $1`, id)
	c, err := scanCard(row)
	if err != nil {
		return nil, notFoundWrap(err, "get card %d", id)
	}
	if err := s.attachLinks(ctx, map[int64]*card.Card{c.ID: &c}); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) ListCards(ctx context.Context) ([]card.Card, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+cardColumns+` FROM kanban_cards ORDER BY priority DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("list cards: %w", err)
	}
	cards, err := collectCards(rows)
	if err != nil {
		return nil, fmt.Errorf("list cards: %w", err)
	}
	if err := s.attachLinksSlice(ctx, cards); err != nil {
		return nil, err
	}
	return cards, nil
}

func (s *Store) UpdateCard(ctx context.Context, id int64, req card.UpdateRequest) (*card.Card, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("update card %d: begin: %w", id, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `SELECT `+cardColumns+` FROM kanban_cards WHERE id = $1 FOR UPDATE`, id)
	c, err := scanCard(row)
	if err != nil {
		return nil, notFoundWrap(err, "update card %d", id)
	}

	if req.Title != nil {
		c.Title = *req.Title
	}
	if req.Description != nil {
		c.Description = *req.Description
	}
	if req.Col != nil {
		c.Col = *req.Col
	}
	if req.Priority != nil {
		c.Priority = *req.Priority
	}
	if req.Assignee != nil {
		c.Assignee = *req.Assignee
	}

	row = tx.QueryRow(ctx,
		`UPDATE kanban_cards
		 SET title = $2, description = $3, col = $4, priority = $5, assignee = $6, updated_at = now()
		 WHERE id = $1
		 RETURNING `+cardColumns,
		id, c.Title, c.Description, string(c.Col), c.Priority, c.Assignee)
	c, err = scanCard(row)
	if err != nil {
		return nil, fmt.Errorf("update card %d: %w", id, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("update card %d: commit: %w", id, err)
	}

	if err := s.attachLinks(ctx, map[int64]*card.Card{c.ID: &c}); err != nil {
		return nil, err
	}
	return &c, nil
}

// DeleteCard removes a card, its own links (by cascade), and the reverse
// links other cards hold toward it.
func (s *Store) DeleteCard(ctx context.Context, id int64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("delete card %d: begin: %w", id, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx,
		`DELETE FROM kanban_card_links WHERE object_type = $1 AND object_id = $2`,
		objectTypeCard, id); err != nil {
		return fmt.Errorf("delete card %d: clear reverse links: %w", id, err)
	}

	tag, err := tx.Exec(ctx, `DELETE FROM kanban_cards WHERE id = $1`, id)
	if err := execExpectOne(tag, err, "delete card %d", id); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("delete card %d: commit: %w", id, err)
	}
	return nil
}

func (s *Store) AddCardLink(ctx context.Context, cardID int64, l card.Link) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("add link to card %d: begin: %w", cardID, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM kanban_cards WHERE id = $1)`, cardID).Scan(&exists); err != nil {
		return fmt.Errorf("add link to card %d: %w", cardID, err)
	}
	if !exists {
		return notFoundWrap(pgx.ErrNoRows, "add link to card %d", cardID)
	}

	if err := insertLink(ctx, tx, cardID, l); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("add link to card %d: commit: %w", cardID, err)
	}
	return nil
}

// RemoveCardLink removes a link and, for card links, its reciprocal.
func (s *Store) RemoveCardLink(ctx context.Context, cardID int64, l card.Link) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("remove link from card %d: begin: %w", cardID, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx,
		`DELETE FROM kanban_card_links WHERE card_id = $1 AND object_type = $2 AND object_id = $3`,
		cardID, l.ObjectType, l.ObjectID)
	if err := execExpectOne(tag, err, "remove link %s/%d from card %d", l.ObjectType, l.ObjectID, cardID); err != nil {
		return err
	}

	if l.ObjectType == objectTypeCard {
		if _, err := tx.Exec(ctx,
			`DELETE FROM kanban_card_links WHERE card_id = $1 AND object_type = $2 AND object_id = $3`,
			l.ObjectID, objectTypeCard, cardID); err != nil {
			return fmt.Errorf("remove reciprocal link from card %d: %w", l.ObjectID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("remove link from card %d: commit: %w", cardID, err)
	}
	return nil
}

// CardsForObject returns every card holding a link to the given object.
func (s *Store) CardsForObject(ctx context.Context, objectType string, objectID int64) ([]card.Card, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+prefixedCardColumns("c")+`
		 FROM kanban_cards c
		 JOIN kanban_card_links l ON l.card_id = c.id
		 WHERE l.object_type = $1 AND l.object_id = $2
		 ORDER BY c.id`, objectType, objectID)
	if err != nil {
		return nil, fmt.Errorf("cards for %s/%d: %w", objectType, objectID, err)
	}
	cards, err := collectCards(rows)
	if err != nil {
		return nil, fmt.Errorf("cards for %s/%d: %w", objectType, objectID, err)
	}
	if err := s.attachLinksSlice(ctx, cards); err != nil {
		return nil, err
	}
	return cards, nil
}

// CardsForObjects is the bulk reverse lookup used for tree rendering.
func (s *Store) CardsForObjects(ctx context.Context, objectType string, objectIDs []int64) (map[int64][]card.Card, error) {
	result := make(map[int64][]card.Card)
	if len(objectIDs) == 0 {
		return result, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT l.object_id, `+prefixedCardColumns("c")+`
		 FROM kanban_cards c
		 JOIN kanban_card_links l ON l.card_id = c.id
		 WHERE l.object_type = $1 AND l.object_id = ANY($2)
		 ORDER BY l.object_id, c.id`, objectType, objectIDs)
	if err != nil {
		return nil, fmt.Errorf("cards for %s objects: %w", objectType, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			objectID int64
			c        card.Card
			col      string
		)
		if err := rows.Scan(&objectID, &c.ID, &c.Title, &c.Description, &col, &c.Priority,
			&c.Assignee, &c.Creator, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("cards for %s objects: %w", objectType, err)
		}
		c.Col = card.Column(col)
		c.Links = []card.Link{}
		result[objectID] = append(result[objectID], c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("cards for %s objects: %w", objectType, err)
	}
	return result, nil
}

func collectCards(rows pgx.Rows) ([]card.Card, error) {
	defer rows.Close()
	var cards []card.Card
	for rows.Next() {
		c, err := scanCard(rows)
		if err != nil {
			return nil, err
		}
		cards = append(cards, c)
	}
	return cards, rows.Err()
}

// attachLinks loads the link sets for the given cards in one query.
func (s *Store) attachLinks(ctx context.Context, cards map[int64]*card.Card) error {
	if len(cards) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(cards))
	for id := range cards {
		ids = append(ids, id)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT card_id, object_type, object_id FROM kanban_card_links
		 WHERE card_id = ANY($1) ORDER BY card_id, created_at`, ids)
	if err != nil {
		return fmt.Errorf("attach card links: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cardID int64
			l      card.Link
		)
		if err := rows.Scan(&cardID, &l.ObjectType, &l.ObjectID); err != nil {
			return fmt.Errorf("attach card links: %w", err)
		}
		cards[cardID].Links = append(cards[cardID].Links, l)
	}
	return rows.Err()
}

func (s *Store) attachLinksSlice(ctx context.Context, cards []card.Card) error {
	byID := make(map[int64]*card.Card, len(cards))
	for i := range cards {
		byID[cards[i].ID] = &cards[i]
	}
	return s.attachLinks(ctx, byID)
}

// prefixedCardColumns qualifies the card select list with a table alias.
func prefixedCardColumns(alias string) string {
	return alias + `.id, ` + alias + `.title, ` + alias + `.description, ` + alias + `.col, ` +
		alias + `.priority, ` + alias + `.assignee, ` + alias + `.creator, ` +
		alias + `.created_at, ` + alias + `.updated_at`
}
