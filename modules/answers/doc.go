// Package answers implements the meme commands: a router that classifies one
// chat line into an Intent, handlers that run the intent against a knowledge
// store, and the kernel module that replies in the originating conversation.
//
// Recognized lines, keywords case-insensitive:
//
//	Array#map                           documentation lookup
//	all memes                           list stored questions
//	remember 'question?' with 'answer'  store a new meme
//	answer 'question?'                  show the answer, or the closest question
//	change 'question?' to 'answer'      replace an answer
//	forget 'question?'                  delete a meme
//
// Lines matching none of these are ignored without a reply.
package answers
