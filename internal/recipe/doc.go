// Package recipe loads a build recipe directory.
//
// A recipe directory holds a YAML file describing the containers, the
// source and the package metadata, plus the stage scripts:
//
//	config.yml   builder, validator, source and deb_info mappings
//	build        optional, compiles the source
//	install      required, installs into the builder's filesystem
//	validate     optional, checks the installed package
//
// Maintainer scripts named preinst, postinst, prerm or postrm are picked up
// as well and shipped in the package.
//
// Everything is validated up front. [Load] reports every problem in one
// [control.ValidationError] matching [ErrInvalidRecipe], before any
// container exists.
package recipe
