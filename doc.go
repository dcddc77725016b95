// Package lrgraph harvests Learning Registry envelopes and turns the
// standards-alignment statements inside them into a property graph of
// resources, standards and submitters.
//
// The ingest pipeline has four stages. Interfaces and the core
// implementations live in this package; sources and stores which depend on
// other software live in sub-packages.
//
// 1. Source
//
//    A lrgraph.Source produces Batches, one data-service document at a time.
//    A Batch holds the envelopes which were published together. The Source
//    is only responsible for getting the envelopes off the wire (HTTP, files,
//    S3, Kafka) without buffering the whole feed - it does not look inside
//    resource_data.
//
// 2. Extractor
//
//    An Extractor turns one Envelope into an Extraction: zero or more
//    (relation type, standard) pairs, and optionally the identity of whoever
//    submitted the resource. There is one Extractor per payload shape -
//    ConformanceExtractor for nsdl_dc XML records carrying dct:conformsTo,
//    and ParadataExtractor for JSON activity streams. A BatchFilter may
//    discard whole batches before any envelope is extracted.
//
// 3. Upserter
//
//    Every node goes through the Upserter, which looks the (label, key) pair
//    up in the store's exact-match index and only creates a node on a miss.
//    Keys are produced by Normalize. This is what keeps one node per key in a
//    run; nothing else in the pipeline creates nodes directly.
//
// 4. GraphStore
//
//    The GraphStore persists nodes, relationships and the label-scoped
//    index. Implementations exist for neo4j, an embedded boltdb file, and an
//    in-memory mock. Stores which also implement GraphReader can serve the
//    Querier.
//
// Ingester drives stages 1-3 for a feed. The taxonomy package links a second
// standards numbering scheme into the same node space with sameAs edges.
package lrgraph
