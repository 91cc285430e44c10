package net

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net"
	"os"
	"strings"

	"github.com/olekukonko/tablewriter"

	"github.com/petreldb/petrel-server/logger"
	"github.com/petreldb/petrel-server/server/catalog"
	"github.com/petreldb/petrel-server/server/common"
	"github.com/petreldb/petrel-server/server/executor"
	"github.com/petreldb/petrel-server/server/parser"
	"github.com/petreldb/petrel-server/server/plan"
	"github.com/petreldb/petrel-server/server/txn"
	"github.com/petreldb/petrel-server/server/wal"
)

const outputFileName = "output.txt"

// Session is the portal for one client connection. Requests and replies
// are null-terminated byte strings. A session holds at most one open
// transaction; statements outside BEGIN...COMMIT auto-commit.
type Session struct {
	sm *catalog.SmManager
	tm *txn.TransactionManager
	qm *executor.QlManager
	pl *plan.Planner

	tr     *txn.Transaction
	mirror bool
}

func NewSession(sm *catalog.SmManager, tm *txn.TransactionManager, log *wal.LogManager) *Session {
	return &Session{
		sm:     sm,
		tm:     tm,
		qm:     executor.NewQlManager(sm, tm.Lock, log),
		pl:     plan.NewPlanner(sm),
		mirror: true,
	}
}

// Serve reads requests off the connection until the client exits or the
// connection drops. A transaction the client leaves open is aborted.
func (s *Session) Serve(conn net.Conn) {
	defer conn.Close()
	defer s.cleanup()
	r := bufio.NewReaderSize(conn, common.BufferLength)
	for {
		req, err := r.ReadString(0)
		if err != nil {
			if err != io.EOF {
				logger.Warnf("session read: %v", err)
			}
			return
		}
		req = strings.TrimSpace(strings.TrimSuffix(req, "\x00"))
		reply, closing := s.Handle(req)
		if _, err := conn.Write(append([]byte(reply), 0)); err != nil {
			logger.Warnf("session write: %v", err)
			return
		}
		if closing {
			return
		}
	}
}

func (s *Session) cleanup() {
	if s.tr != nil {
		if err := s.tm.Abort(s.tr); err != nil {
			logger.Warnf("abort on disconnect: %v", err)
		}
		s.tr = nil
	}
}

// Handle runs one request and returns the reply plus whether the
// session should close. The pseudo-commands never reach the parser.
func (s *Session) Handle(req string) (reply string, closing bool) {
	switch req {
	case "":
		return "", false
	case "exit":
		return "bye", true
	case "crash":
		// Die without flushing anything so restart exercises recovery.
		os.Exit(1)
	case "set output_file off":
		s.mirror = false
		return "ok", false
	case "set output_file on":
		s.mirror = true
		return "ok", false
	}
	if strings.EqualFold(firstWord(req), "load") {
		return s.load(req), false
	}
	reply, closing = s.exec(req)
	if s.mirror {
		s.appendOutput(req, reply)
	}
	return reply, closing
}

func firstWord(req string) string {
	if i := strings.IndexByte(req, ' '); i >= 0 {
		return req[:i]
	}
	return req
}

// load handles `load <path> into <table>;`, the bulk CSV loader.
func (s *Session) load(req string) string {
	fields := strings.Fields(strings.TrimSuffix(req, ";"))
	if len(fields) != 4 || !strings.EqualFold(fields[2], "into") {
		return "syntax error: load <path> into <table>;"
	}
	n, err := s.sm.LoadTable(fields[3], fields[1])
	if err != nil {
		return err.Error()
	}
	return fmt.Sprintf("%d rows loaded", n)
}

func (s *Session) exec(req string) (string, bool) {
	stmt, err := parser.Parse(req)
	if err != nil {
		return err.Error(), false
	}

	switch stmt.(type) {
	case *parser.TxnBeginStmt:
		if s.tr != nil {
			return "already in a transaction", false
		}
		tr, err := s.tm.Begin()
		if err != nil {
			return err.Error(), false
		}
		s.tr = tr
		return "ok", false
	case *parser.TxnCommitStmt:
		if s.tr == nil {
			return "no transaction in progress", false
		}
		err := s.tm.Commit(s.tr)
		s.tr = nil
		if err != nil {
			return err.Error(), false
		}
		return "ok", false
	case *parser.TxnAbortStmt, *parser.TxnRollbackStmt:
		if s.tr == nil {
			return "no transaction in progress", false
		}
		err := s.tm.Abort(s.tr)
		s.tr = nil
		if err != nil {
			return err.Error(), false
		}
		return "ok", false
	case *parser.ExitStmt:
		return "bye", true
	}

	pl, err := s.pl.Plan(stmt)
	if err != nil {
		return err.Error(), false
	}

	tr := s.tr
	auto := tr == nil
	if auto && needsTxn(pl) {
		if tr, err = s.tm.Begin(); err != nil {
			return err.Error(), false
		}
	}
	rs, err := s.qm.Run(pl, tr)
	if err != nil {
		if common.IsTxnAbort(err) {
			if aerr := s.tm.Abort(tr); aerr != nil {
				logger.Warnf("abort txn %d: %v", tr.ID, aerr)
			}
			s.tr = nil
			return "abort\n", false
		}
		if auto && tr != nil {
			if aerr := s.tm.Abort(tr); aerr != nil {
				logger.Warnf("abort txn %d: %v", tr.ID, aerr)
			}
		}
		return err.Error(), false
	}
	if auto && tr != nil {
		if err := s.tm.Commit(tr); err != nil {
			return err.Error(), false
		}
	}
	return render(rs), false
}

// needsTxn reports whether a plan runs under transaction control. DDL
// and the catalog utilities commit on their own.
func needsTxn(pl plan.Plan) bool {
	switch pl.(type) {
	case *plan.DDLPlan, *plan.UtilityPlan:
		return false
	}
	return true
}

func render(rs *executor.ResultSet) string {
	var buf bytes.Buffer
	if len(rs.Headers) > 0 {
		tw := tablewriter.NewWriter(&buf)
		tw.SetAutoFormatHeaders(false)
		tw.SetHeader(rs.Headers)
		for _, row := range rs.Rows {
			tw.Append(row)
		}
		tw.Render()
		fmt.Fprintf(&buf, "(%d rows)\n", len(rs.Rows))
	}
	if rs.Message != "" {
		buf.WriteString(rs.Message)
		buf.WriteByte('\n')
	}
	return buf.String()
}

// appendOutput mirrors the exchange into output.txt. A failure turns
// mirroring off for the rest of the session rather than failing every
// statement.
func (s *Session) appendOutput(req, reply string) {
	f, err := os.OpenFile(outputFileName, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		logger.Warnf("open %s: %v", outputFileName, err)
		s.mirror = false
		return
	}
	defer f.Close()
	fmt.Fprintf(f, "%s\n%s\n", req, strings.TrimRight(reply, "\n"))
}
