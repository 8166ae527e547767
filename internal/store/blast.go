package store

import "fmt"

// FilesDependingOn returns the IDs of the files recording a dependency
// edge on any of the given files.
func (s *Store) FilesDependingOn(fileIDs []int64) ([]int64, error) {
	if len(fileIDs) == 0 {
		return nil, nil
	}
	query := "SELECT DISTINCT file_id FROM dependencies WHERE target_file_id IN (" + placeholderList(len(fileIDs)) + ") ORDER BY file_id"
	rows, err := s.db.Query(query, int64sToArgs(fileIDs)...)
	if err != nil {
		return nil, fmt.Errorf("store: files depending on: %w", err)
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("store: scan file id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// BlastRadius returns the paths of every file transitively depending on
// path, nearest first. The file itself is not included.
func (s *Store) BlastRadius(path string) ([]string, error) {
	f, err := s.FileByPath(path)
	if err != nil || f == nil {
		return nil, err
	}
	seen := map[int64]bool{f.ID: true}
	frontier := []int64{f.ID}
	var order []int64
	for len(frontier) > 0 {
		next, err := s.FilesDependingOn(frontier)
		if err != nil {
			return nil, err
		}
		frontier = frontier[:0]
		for _, id := range next {
			if !seen[id] {
				seen[id] = true
				order = append(order, id)
				frontier = append(frontier, id)
			}
		}
	}
	out := make([]string, 0, len(order))
	for _, id := range order {
		var p string
		if err := s.db.QueryRow("SELECT path FROM files WHERE id = ?", id).Scan(&p); err != nil {
			return nil, fmt.Errorf("store: blast radius: %w", err)
		}
		out = append(out, p)
	}
	return out, nil
}
