/*
Package lfs provides logging, configuration helpers, and small parallel-execution
utilities that have no other dependencies within this module and can be used by every
layer: the splat data model, the clustering engines, the SOG bundle codec, and the
command-line and HTTP front ends.
*/
package lfs
