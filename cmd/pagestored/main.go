// Command pagestored constructs a buffer manager, one pager per configured
// data file, and a B+ tree on the first data file, prints a startup banner,
// and then idles while a cron-scheduled background tick periodically flushes
// every cached page to disk. Per spec.md §6, the storage stack itself has no
// CLI and no network surface — this binary is the thin operational shell a
// long-running embedding process would wrap around it.
package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"

	"pagestore/config"
	"pagestore/storage/btree"
	"pagestore/storage/buffer"
	"pagestore/storage/pager"
)

func main() {
	cfgPath := flag.String("config", "pagestored.yaml", "path to the pagestored YAML config")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("pagestored: %v", err)
	}

	policy, err := cfg.PolicyKind()
	if err != nil {
		log.Fatalf("pagestored: %v", err)
	}

	bm, err := buffer.New(cfg.BufferSize, policy, cfg.MetadataFile)
	if err != nil {
		log.Fatalf("pagestored: buffer.New: %v", err)
	}
	defer bm.Close()

	pagers := make([]*pager.Pager, 0, len(cfg.DataFiles))
	for _, df := range cfg.DataFiles {
		if err := bm.AddFile(df.Path); err != nil {
			log.Fatalf("pagestored: add_file %q: %v", df.Path, err)
		}
		if err := bm.FillUpTo(df.Path, df.InitialPages); err != nil {
			log.Fatalf("pagestored: fill_up_to %q: %v", df.Path, err)
		}
		pg, err := pager.Open(bm, df.Path, df.InitialPages)
		if err != nil {
			log.Fatalf("pagestored: pager.Open %q: %v", df.Path, err)
		}
		pagers = append(pagers, pg)
	}

	tree, err := btree.New(bm, pagers[0], pagers[0].File())
	if err != nil {
		log.Fatalf("pagestored: btree.New: %v", err)
	}

	log.Printf("pagestore: buffer pool size=%d policy=%s metadata=%s", cfg.BufferSize, cfg.Policy, cfg.MetadataFile)
	log.Printf("pagestore: opened %d data file(s), index root page=%d first leaf page=%d", len(pagers), tree.Root(), tree.FirstLeaf())

	c := cron.New()
	if _, err := c.AddFunc(cfg.FlushCron, func() {
		if err := bm.FlushAll(); err != nil {
			log.Printf("pagestore: scheduled flush failed: %v", err)
			return
		}
		log.Printf("pagestore: scheduled flush complete")
	}); err != nil {
		log.Fatalf("pagestored: invalid flush_cron %q: %v", cfg.FlushCron, err)
	}
	c.Start()
	defer c.Stop()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Printf("pagestore: shutting down, flushing all files")
	if err := bm.FlushAll(); err != nil {
		log.Printf("pagestore: final flush failed: %v", err)
	}
}
