// Package srt receives Ogg Vorbis byte streams over SRT (Secure Reliable
// Transport). Server accepts publishers in listener mode; Caller pulls from
// remote listeners.
package srt
