package index

import "encoding/json"

// Mapping is the settings and mappings body used to create a partition on a
// backend with a server-side analyzer. Address fields are split into the
// whole address, local part, domain and name words so that "alice",
// "example.com" and "alice@example.com" all match.
var Mapping = json.RawMessage(`{
  "settings": {
    "analysis": {
      "filter": {
        "email": {
          "type": "pattern_capture",
          "preserve_original": true,
          "patterns": ["([^@]+)", "(\\p{L}+)", "(\\d+)", "@(.+)", "([^-@]+)"]
        }
      },
      "analyzer": {
        "email_address": {
          "tokenizer": "uax_url_email",
          "filter": ["email", "lowercase", "unique"]
        },
        "email_body": {
          "type": "custom",
          "tokenizer": "standard",
          "char_filter": ["html_strip"],
          "filter": ["lowercase", "stop"]
        }
      }
    }
  },
  "mappings": {
    "properties": {
      "message_id": {"type": "keyword"},
      "path": {"type": "keyword", "index": false},
      "headers": {"type": "text", "index": false},
      "from_addr": {"type": "text", "analyzer": "email_address", "fields": {"keyword": {"type": "keyword"}}},
      "to_addr": {"type": "text", "analyzer": "email_address", "fields": {"keyword": {"type": "keyword"}}},
      "cc_addr": {"type": "text", "analyzer": "email_address", "fields": {"keyword": {"type": "keyword"}}},
      "bcc_addr": {"type": "text", "analyzer": "email_address", "fields": {"keyword": {"type": "keyword"}}},
      "attachments": {"type": "text", "fields": {"keyword": {"type": "keyword", "ignore_above": 256}}},
      "has_attachments": {"type": "boolean"},
      "subject": {"type": "text", "fields": {"keyword": {"type": "keyword", "ignore_above": 256}}},
      "body": {"type": "text", "analyzer": "email_body"},
      "@timestamp": {"type": "date"}
    }
  }
}`)
