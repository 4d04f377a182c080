// Package ragtune implements a budget-aware, iterative retrieval-reranking
// decision engine. Given a query, a multi-resource budget, and a set of
// pluggable components (retriever, reformulator, estimator, scheduler,
// reranker, assembler), the Controller retrieves a pool of cheap candidates,
// then iteratively decides which small batches are worth paying to rerank
// with expensive scorers, stopping gracefully when any budget is exhausted.
//
// The Controller is the sole mutator of pool and budget state. Estimators and
// schedulers are pure readers over snapshots, rerankers and reformulators are
// fallible collaborators whose failures degrade the run instead of aborting
// it, and every decision is recorded in an append-only trace.
package ragtune
