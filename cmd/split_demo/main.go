// Command split_demo forces a small TargetFileSize so a major
// compaction's merged output rolls across several SSTs instead of one,
// and reports the resulting file sizes.
package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/return2faye/siltkv/internal/backend"
	"github.com/return2faye/siltkv/storage"
)

func main() {
	tmpDir := filepath.Join(os.TempDir(), "siltkv-split-test")
	defer os.RemoveAll(tmpDir)

	const targetFileSize = 512 * 1024 // 512KB, small enough to force several output files

	fmt.Println("=== SiltKV Output File Split Test ===")
	fmt.Printf("Data directory: %s\n", tmpDir)
	fmt.Printf("Target compaction output file size: %d KB\n\n", targetFileSize/1024)

	fmt.Println("1. Opening DB...")
	db, err := storage.Open(storage.Config{
		Path:              tmpDir,
		L0CompactionFiles: 4,
		TargetFileSize:    targetFileSize,
	}, backend.NewLocal())
	if err != nil {
		log.Fatalf("Failed to open DB: %v", err)
	}
	defer db.Close()

	fmt.Println("2. Writing data across several flushes to force a large merge...")
	keyCounter := 0
	for batch := 0; batch < 6; batch++ {
		for i := 0; i < 800; i++ {
			key := fmt.Sprintf("key-%08d", keyCounter)
			value := make([]byte, 5000)
			for j := range value {
				value[j] = byte(keyCounter + j)
			}
			if _, err := db.Set(storage.WriteOption{}, []byte(key), value); err != nil {
				log.Fatalf("Failed to put %s: %v", key, err)
			}
			keyCounter++
		}
		if err := db.FlushMemtable(); err != nil {
			log.Fatalf("Failed to flush batch %d: %v", batch, err)
		}
	}
	fmt.Printf("  Total written: %d keys\n", keyCounter)

	fmt.Println("\n3. Waiting for compaction to complete...")
	time.Sleep(2 * time.Second)

	fmt.Println("\n4. Checking SSTable files for the split...")
	sstFiles, err := filepath.Glob(filepath.Join(tmpDir, "sst", "*.sst"))
	if err != nil {
		log.Fatalf("Failed to list SSTable files: %v", err)
	}
	fmt.Printf("  Found %d SSTable file(s):\n", len(sstFiles))
	var overLimit int
	for _, f := range sstFiles {
		info, err := os.Stat(f)
		if err != nil {
			continue
		}
		size := info.Size()
		marker := "✓"
		if size > 2*targetFileSize {
			marker = "⚠"
			overLimit++
		}
		fmt.Printf("    %s %s (%d bytes)\n", marker, filepath.Base(f), size)
	}

	sv := db.SuperVersion()
	var l1Files int
	for lvl := 1; lvl < len(sv.Version.Levels); lvl++ {
		for _, run := range sv.Version.Levels[lvl] {
			l1Files += len(run.Files)
		}
	}
	fmt.Printf("\n5. Split analysis: %d file(s) landed below L0, %d exceed twice the target\n", l1Files, overLimit)
	if l1Files > 1 {
		fmt.Println("  ✓ Compaction output rolled across multiple files as expected")
	} else {
		fmt.Println("  ⚠ Only one (or zero) output file below L0 — rolling may not have triggered")
	}

	fmt.Println("\n6. Verifying data integrity...")
	testKeys := []int{0, 1000, 2000, 3000, 4000, keyCounter - 1}
	verified := 0
	for _, keyNum := range testKeys {
		if keyNum < 0 || keyNum >= keyCounter {
			continue
		}
		key := fmt.Sprintf("key-%08d", keyNum)
		expectedValue := make([]byte, 5000)
		for j := range expectedValue {
			expectedValue[j] = byte(keyNum + j)
		}
		val, err := db.Get(storage.GetOption{}, []byte(key))
		if err != nil {
			fmt.Printf("  ✗ %s: %v\n", key, err)
			continue
		}
		match := len(val) == len(expectedValue)
		if match {
			for j := range val {
				if val[j] != expectedValue[j] {
					match = false
					break
				}
			}
		}
		if match {
			verified++
			fmt.Printf("  ✓ %s\n", key)
		} else {
			fmt.Printf("  ✗ %s: value mismatch\n", key)
		}
	}
	fmt.Printf("\n7. Verification: %d/%d passed\n", verified, len(testKeys))
	fmt.Println("\n=== Split test completed! ===")
}
