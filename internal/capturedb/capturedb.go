// Package capturedb records acquisition runs, frames and anomalies in a
// ClickHouse database.
package capturedb

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/cenkalti/backoff"
)

// CaptureDBConnection is a connection to the database plus the goroutine
// that serializes inserts to it.
type CaptureDBConnection struct {
	conn       clickhouse.Conn
	err        error
	run        *RunMessage
	framemsg   chan *FrameMessage
	anomalymsg chan *AnomalyMessage
	sync.WaitGroup
}

const databaseName = "nicapture" // official SQL name of the database

const timeFormat = "2006-01-02 15:04:05.000000"

// ConnectTimeout bounds the total time spent retrying the first connection.
var ConnectTimeout = 10 * time.Second

// IsConnected is true when the connection is open and no insert has failed.
func (db *CaptureDBConnection) IsConnected() bool {
	return (db != nil) && (db.conn != nil) && (db.err == nil)
}

// Err returns the error that closed the connection, if any.
func (db *CaptureDBConnection) Err() error {
	if db == nil {
		return nil
	}
	return db.err
}

// StartDBConnection connects (retrying with exponential backoff until
// ConnectTimeout), records the start of run, and serves inserts until abort
// is closed. When the server cannot be reached the returned connection is
// not connected and every Record call is a no-op.
func StartDBConnection(run *RunMessage, abort <-chan struct{}) *CaptureDBConnection {
	db := createDBConnection()
	db.run = run
	if !db.IsConnected() {
		log.Printf("capturedb: not recording to database: %v", db.err)
		db.Add(1)
		go func() {
			defer db.Done()
			<-abort
		}()
		return db
	}
	db.logRun()
	db.Add(1)
	go db.handleConnection(abort)
	return db
}

// DummyDBConnection returns an unconnected connection, for use when no
// database is wanted.
func DummyDBConnection() *CaptureDBConnection {
	return &CaptureDBConnection{}
}

func options() *clickhouse.Options {
	addr := os.Getenv("NICAPTURE_DB_ADDR")
	if addr == "" {
		addr = "localhost:9000"
	}
	return &clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: databaseName,
			Username: os.Getenv("NICAPTURE_DB_USER"),
			Password: os.Getenv("NICAPTURE_DB_PASSWORD"),
		},
		ClientInfo: clickhouse.ClientInfo{
			Products: []struct {
				Name    string
				Version string
			}{
				{Name: "nicapture", Version: "unknown"},
			},
		},
		DialTimeout: 2 * time.Second,
	}
}

func createDBConnection() *CaptureDBConnection {
	db := &CaptureDBConnection{}
	conn, err := clickhouse.Open(options())
	if err != nil {
		db.err = err
		return db
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 250 * time.Millisecond
	eb.MaxInterval = 2 * time.Second
	eb.MaxElapsedTime = ConnectTimeout
	ping := func() error {
		return conn.Ping(context.Background())
	}
	if err = backoff.Retry(ping, eb); err != nil {
		if exception, ok := err.(*clickhouse.Exception); ok {
			log.Printf("capturedb: exception [%d] %s \n%s\n", exception.Code, exception.Message, exception.StackTrace)
		}
		conn.Close()
		db.err = err
		return db
	}
	db.conn = conn
	db.framemsg = make(chan *FrameMessage)
	db.anomalymsg = make(chan *AnomalyMessage)
	return db
}

func (db *CaptureDBConnection) logRun() {
	if !db.IsConnected() || db.run == nil {
		return
	}
	ctx := context.Background()
	const nowait = false
	r := db.run
	if err := db.conn.AsyncInsert(ctx, `INSERT INTO captureruns VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, nowait,
		r.ID, r.Hostname, r.Version, r.Githash, r.GoVersion, r.Mode,
		r.SampleRate, r.Samples, r.GroupSize, r.GroupInterval, r.MaxFrames,
		r.Start.Format(timeFormat), r.End.Format(timeFormat),
	); err != nil {
		log.Println("capturedb: error raised on AsyncInsert into captureruns ", err)
		db.err = err
	}
}

func (db *CaptureDBConnection) handleConnection(abort <-chan struct{}) {
	defer db.Done()
	for {
		select {
		case <-abort:
			db.Disconnect()
			return
		case fmsg := <-db.framemsg:
			db.handleFrameMessage(fmsg)
		case amsg := <-db.anomalymsg:
			db.handleAnomalyMessage(amsg)
		}
	}
}

// Disconnect records the end of the run and closes the connection.
func (db *CaptureDBConnection) Disconnect() {
	if db.IsConnected() {
		db.run.End = time.Now()
		db.logRun()
	}
	if db.conn != nil {
		db.conn.Close()
		db.conn = nil
	}
}

// RecordFrame queues one frame for insertion. It does not block.
func (db *CaptureDBConnection) RecordFrame(msg *FrameMessage) {
	if !db.IsConnected() || msg == nil {
		return
	}
	go func() { db.framemsg <- msg }()
}

// RecordAnomaly queues one anomaly for insertion. It does not block.
func (db *CaptureDBConnection) RecordAnomaly(msg *AnomalyMessage) {
	if !db.IsConnected() || msg == nil {
		return
	}
	go func() { db.anomalymsg <- msg }()
}

func (db *CaptureDBConnection) handleFrameMessage(m *FrameMessage) {
	if !db.IsConnected() {
		return
	}
	ctx := context.Background()
	const nowait = false
	if err := db.conn.AsyncInsert(ctx, `INSERT INTO frames VALUES (?, ?, ?, ?, ?, ?)`, nowait,
		m.RunID, m.Frame, m.EndTime, m.Overload, m.MissedTrigger, m.Values,
	); err != nil {
		log.Println("capturedb: error raised on AsyncInsert into frames ", err)
		db.err = err
	}
}

func (db *CaptureDBConnection) handleAnomalyMessage(m *AnomalyMessage) {
	if !db.IsConnected() {
		return
	}
	ctx := context.Background()
	const nowait = false
	if err := db.conn.AsyncInsert(ctx, `INSERT INTO anomalies VALUES (?, ?, ?, ?, ?)`, nowait,
		m.RunID, m.Frame, m.Kind, m.Detail, m.Time.Format(timeFormat),
	); err != nil {
		log.Println("capturedb: error raised on AsyncInsert into anomalies ", err)
		db.err = err
	}
}

// PingServer reports whether the ClickHouse server answers.
func PingServer() error {
	db := createDBConnection()
	if !db.IsConnected() {
		return fmt.Errorf("database is not connected: %w", db.err)
	}
	v, err := db.conn.ServerVersion()
	if err != nil {
		return err
	}
	log.Printf("ClickHouse server is alive. Version:\n%s\n", v)
	db.conn.Close()
	return nil
}
