/*
Package crypt implements JStorage's at-rest encryption.

CryptTool is a password-bound authenticated cipher used to protect shard
and cache files when a database has encryption enabled. It is initialised
once, interactively, from an operator-supplied password; the password
itself is never stored, only a verifier hash used to detect a wrong
password on a later reload.

Encoded output begins with a fixed 4-byte magic ("JS2\0") so that reader
code can tell an encrypted line from a legacy plaintext line apart without
maintaining per-file metadata, supporting the mixed-mode reads required
during the lazy encryption migration: enabling encryption on a database
takes effect shard by shard, on each shard's next save.
*/
package crypt
