// Package proxy gives callers a database connection and cursors that behave
// like local ones while every call is a round trip to the broker.
//
// Each call builds a command with a fresh response key, pushes it to the
// command queue and blocks on a pop of its own response key for at most the
// reply timeout. Since every response key is unique, concurrent calls never
// see each other's replies.
//
// Usage:
//
//	db, err := proxy.Connect(q, proxy.Options{Exclusive: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	cur, _ := db.Cursor()
//	if _, err := cur.Execute("INSERT INTO jobs (name) VALUES (?)", "nightly"); err != nil {
//	    return err
//	}
//	return db.Commit(proxy.CommitOptions{})
//
// A DB tracks the cursors it created. Commit can close them afterwards,
// except for an exemption list. UnitOfWork builds on this: it commits, then
// closes only the cursors created inside the unit, so an outer caller sharing
// the same DB keeps its cursors.
package proxy
