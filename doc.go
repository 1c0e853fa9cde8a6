/*
Package underlay keeps projects synchronized with a shared base layer of
configuration.

A project vendors a pristine copy of the upstream base layer, keeps its
own customizations in an overlay tree, and publishes the merged result
of the two. The engine re-derives the output from its inputs on every
run, records which files it produced, and snapshots state before any
mutation so a failed run can restore what it found.

The top level Project type composes the pieces for a project rooted on
disk. The packages under pkg implement the parts: storage abstracts file
trees, tree fingerprints and diffs them, merge combines vendor and
overlay, upstream talks to git remotes and local directories, backup
snapshots state, and sync drives the protocol across all of them.
*/
package underlay
