// Automod component for durable storage of moderation records: blacklist and whitelist entries, and mute records.
//
// Includes an interface and implementations using in-process memory, redis, SQL databases (sqlite or postgres, via gorm), an embedded pebble key/value store, and cassandra/scylla.
//
// The store is only the durable backing for in-memory caches (see listcache and mute), which load everything at startup and write through on mutation.
package modstore
