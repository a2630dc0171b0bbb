// Package fulltext implements the full-text search index of spec.md §4.G:
// a tokenise/filter pipeline feeding a term dictionary (backed by the
// btree package's FstKeys flavour), postings lists, SmallFloat-quantized
// document lengths, and BM25 scoring with a precomputed NormCache.
package fulltext

import (
	"context"
	"encoding/binary"
	"math"
	"sort"
	"time"

	"github.com/surrealdb/surreal-core/btree"
	"github.com/surrealdb/surreal-core/common/dbutils"
	"github.com/surrealdb/surreal-core/kvstore"
	"github.com/surrealdb/surreal-core/qerror"
)

var zeroTime time.Time

// DocID is a compact document identifier minted by btree/docid.
type DocID uint64

// BM25Params tunes the scorer (spec.md §4.G formula: k1, b).
type BM25Params struct {
	K1 float64
	B  float64
}

// DefaultBM25Params matches the commonly used Okapi BM25 defaults.
var DefaultBM25Params = BM25Params{K1: 1.2, B: 0.75}

// Posting is one (doc, term-frequency) pair for a term.
type Posting struct {
	Doc DocID
	TF  uint32
}

// Index is one analyzer-backed full-text index bound to a transaction.
type Index struct {
	tx         kvstore.Transaction
	termsTbl   string // term dictionary table (FstKeys tree storage)
	postTbl    string // postings KV table
	lenTbl     string // doc-length KV table (SmallFloat-encoded bytes)
	indexID    dbutils.CatalogID
	terms      *btree.Tree // term string -> term_id
	analyzer   *Analyzer
	params     BM25Params
	normCache  *NormCache
	avgDocLen  float64
	totalDocs  uint64
}

// Open binds a full-text Index to tx, loading (or initialising) its term
// dictionary.
func Open(tx kvstore.Transaction, termsTbl, postTbl, lenTbl string, indexID dbutils.CatalogID, analyzer *Analyzer, params BM25Params, cache *btree.NodeCache) (*Index, error) {
	terms, err := btree.Open(tx, termsTbl, indexID, btree.FstKeys, btree.DefaultOrder, cache)
	if err != nil {
		return nil, err
	}
	idx := &Index{
		tx: tx, termsTbl: termsTbl, postTbl: postTbl, lenTbl: lenTbl,
		indexID: indexID, terms: terms, analyzer: analyzer, params: params,
		avgDocLen: 1,
	}
	idx.normCache = NewNormCache(params.B, idx.avgDocLen)
	return idx, nil
}

func termIDKey(termID uint64) []byte {
	b := make([]byte, 9)
	b[0] = 't'
	binary.BigEndian.PutUint64(b[1:], termID)
	return b
}

func postingsKey(termID uint64) []byte {
	b := make([]byte, 9)
	b[0] = 'p'
	binary.BigEndian.PutUint64(b[1:], termID)
	return b
}

func docLenKey(doc DocID) []byte {
	b := make([]byte, 9)
	b[0] = 'l'
	binary.BigEndian.PutUint64(b[1:], uint64(doc))
	return b
}

// resolveTermID returns the term's numeric id, minting one (monotone, from
// a counter stored under the next_term_id key) if unseen.
func (idx *Index) resolveTermID(ctx context.Context, term string) (uint64, error) {
	if raw, err := idx.terms.Search(ctx, []byte(term)); err == nil {
		return binary.BigEndian.Uint64(raw), nil
	} else if !qerror.Is(err, qerror.KindNotFound) {
		return 0, err
	}
	id, err := idx.nextTermID(ctx)
	if err != nil {
		return 0, err
	}
	idBytes := make([]byte, 8)
	binary.BigEndian.PutUint64(idBytes, id)
	if err := idx.terms.Insert(ctx, []byte(term), idBytes); err != nil {
		return 0, err
	}
	return id, nil
}

func (idx *Index) nextTermID(ctx context.Context) (uint64, error) {
	key := []byte("next_term_id")
	raw, err := idx.tx.Get(ctx, idx.postTbl, key, zeroTime)
	var next uint64
	if err != nil {
		if !qerror.Is(err, qerror.KindNotFound) {
			return 0, err
		}
		next = 0
	} else {
		next = binary.BigEndian.Uint64(raw)
	}
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, next+1)
	if err := idx.tx.Set(ctx, idx.postTbl, key, buf); err != nil {
		return 0, err
	}
	return next, nil
}

// IndexDocument tokenises text, updates postings for each resulting term,
// and records the document's SmallFloat-quantized length.
func (idx *Index) IndexDocument(ctx context.Context, doc DocID, text string) error {
	tokens := idx.analyzer.Analyze(text)
	freq := make(map[string]uint32, len(tokens))
	for _, tok := range tokens {
		freq[tok]++
	}
	for term, tf := range freq {
		termID, err := idx.resolveTermID(ctx, term)
		if err != nil {
			return err
		}
		postings, err := idx.loadPostings(ctx, termID)
		if err != nil {
			return err
		}
		postings = upsertPosting(postings, Posting{Doc: doc, TF: tf})
		if err := idx.storePostings(ctx, termID, postings); err != nil {
			return err
		}
	}
	lenByte := EncodeSmallFloat(uint32(len(tokens)))
	idx.totalDocs++
	return idx.tx.Set(ctx, idx.lenTbl, docLenKey(doc), []byte{lenByte})
}

func upsertPosting(postings []Posting, p Posting) []Posting {
	for i := range postings {
		if postings[i].Doc == p.Doc {
			postings[i].TF = p.TF
			return postings
		}
	}
	return append(postings, p)
}

func (idx *Index) loadPostings(ctx context.Context, termID uint64) ([]Posting, error) {
	raw, err := idx.tx.Get(ctx, idx.postTbl, postingsKey(termID), zeroTime)
	if err != nil {
		if qerror.Is(err, qerror.KindNotFound) {
			return nil, nil
		}
		return nil, err
	}
	count := len(raw) / 12
	out := make([]Posting, count)
	for i := 0; i < count; i++ {
		off := i * 12
		out[i] = Posting{
			Doc: DocID(binary.BigEndian.Uint64(raw[off : off+8])),
			TF:  binary.BigEndian.Uint32(raw[off+8 : off+12]),
		}
	}
	return out, nil
}

func (idx *Index) storePostings(ctx context.Context, termID uint64, postings []Posting) error {
	buf := make([]byte, 12*len(postings))
	for i, p := range postings {
		off := i * 12
		binary.BigEndian.PutUint64(buf[off:off+8], uint64(p.Doc))
		binary.BigEndian.PutUint32(buf[off+8:off+12], p.TF)
	}
	return idx.tx.Set(ctx, idx.postTbl, postingsKey(termID), buf)
}

func (idx *Index) docLen(ctx context.Context, doc DocID) (byte, error) {
	raw, err := idx.tx.Get(ctx, idx.lenTbl, docLenKey(doc), zeroTime)
	if err != nil {
		return 0, err
	}
	return raw[0], nil
}

// Hit is one scored search result (spec.md §4.G: "HitsIterator yields
// (Thing, DocId) pairs in descending score order").
type Hit struct {
	Doc   DocID
	Score float64
}

// Search runs a multi-term BM25 query, merging postings across query
// terms and returning hits sorted by descending score (the non-streaming
// equivalent of spec.md's parallel-merge HitsIterator: this package
// computes the full ranked list, since the exec layer's scan operators are
// what turn it into a streaming iterator).
func (idx *Index) Search(ctx context.Context, query string) ([]Hit, error) {
	terms := idx.analyzer.Analyze(query)
	scores := make(map[DocID]float64)
	for _, term := range terms {
		raw, err := idx.terms.Search(ctx, []byte(term))
		if err != nil {
			if qerror.Is(err, qerror.KindNotFound) {
				continue
			}
			return nil, err
		}
		termID := binary.BigEndian.Uint64(raw)
		postings, err := idx.loadPostings(ctx, termID)
		if err != nil {
			return nil, err
		}
		idf := idfFor(len(postings), idx.totalDocsOrOne())
		for _, p := range postings {
			lenByte, err := idx.docLen(ctx, p.Doc)
			if err != nil {
				continue
			}
			invNorm := idx.normCache.InverseNorm(lenByte)
			tf := float64(p.TF)
			k1 := idx.params.K1
			score := idf * (tf * (k1 + 1)) / (tf + k1*(1/invNorm))
			scores[p.Doc] += score
		}
	}
	hits := make([]Hit, 0, len(scores))
	for doc, score := range scores {
		hits = append(hits, Hit{Doc: doc, Score: score})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Doc < hits[j].Doc
	})
	return hits, nil
}

func (idx *Index) totalDocsOrOne() uint64 {
	if idx.totalDocs == 0 {
		return 1
	}
	return idx.totalDocs
}

func idfFor(docFreq int, totalDocs uint64) float64 {
	if docFreq == 0 {
		return 0
	}
	n := float64(totalDocs)
	df := float64(docFreq)
	return math.Log(1 + (n-df+0.5)/(df+0.5))
}
