package main

import (
	"bytes"
	"encoding/json"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/time/rate"
)

func setupLogging(logDir string) error {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return err
	}
	fInfo, err := os.OpenFile(filepath.Join(logDir, "server.log"), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	fErr, err := os.OpenFile(filepath.Join(logDir, "error.log"), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	InfoLog = log.New(io.MultiWriter(os.Stdout, fInfo), "INFO: ", log.Ldate|log.Ltime|log.Lshortfile)
	ErrorLog = log.New(io.MultiWriter(os.Stderr, fErr), "ERROR: ", log.Ldate|log.Ltime|log.Lshortfile)
	return nil
}

// discardLogging is used by tests and tools that do not want log files.
func discardLogging() {
	InfoLog = log.New(io.Discard, "INFO: ", 0)
	ErrorLog = log.New(io.Discard, "ERROR: ", 0)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer bufferPool.Put(buf)

	if err := json.NewEncoder(buf).Encode(v); err != nil {
		ErrorLog.Printf("encode response: %v", err)
		http.Error(w, "Encode Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(buf.Bytes())
}

func getLimiter(ip string) *rate.Limiter {
	ipLock.Lock()
	defer ipLock.Unlock()
	limiter, exists := ipLimiters[ip]
	if !exists {
		limiter = rate.NewLimiter(rate.Limit(Config.RateLimit.PerSecond), Config.RateLimit.Burst)
		ipLimiters[ip] = limiter
	}
	return limiter
}

// middlewareCORS adds headers to allow browser clients
func middlewareCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept, X-Requested-With")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func middlewareSecurity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			ip = r.RemoteAddr
		}
		if !getLimiter(ip).Allow() {
			http.Error(w, "Rate Limit", http.StatusTooManyRequests)
			return
		}

		if r.Method == http.MethodGet || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		// Writes must be JSON (charset suffixes allowed) or bodiless.
		contentType := r.Header.Get("Content-Type")
		if contentType == "" || strings.Contains(contentType, "application/json") {
			next.ServeHTTP(w, r)
			return
		}

		http.Error(w, "Bad Type: "+contentType, http.StatusUnsupportedMediaType)
	})
}
