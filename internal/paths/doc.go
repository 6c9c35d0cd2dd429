// Provides platform-appropriate paths for cruxdeb.
//
// All paths follow XDG conventions on Linux and platform-native conventions
// on macOS. The name "cruxdeb" is used as the subdirectory under each base
// path.
package paths
